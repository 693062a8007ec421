// Package dberror classifies errors returned by the snapshot store backends.
package dberror

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType classifies database errors for appropriate handling.
type ErrorType int

const (
	// ErrorTypeUnknown is an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConnectivity indicates the database is unreachable.
	ErrorTypeConnectivity
	// ErrorTypeTimeout indicates the operation timed out.
	ErrorTypeTimeout
	// ErrorTypeAuth indicates authentication/authorization failure.
	ErrorTypeAuth
	// ErrorTypeQuery indicates a query/syntax error.
	ErrorTypeQuery
	// ErrorTypeBusy indicates lock contention that clears on its own.
	ErrorTypeBusy
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConnectivity:
		return "connectivity"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeQuery:
		return "query"
	case ErrorTypeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// IsTransient returns true if the error is likely transient and worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout, ErrorTypeBusy:
		return true
	default:
		return false
	}
}

// Classify determines the type of database error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	errStr := strings.ToLower(err.Error())
	for _, c := range []struct {
		typ      ErrorType
		patterns []string
	}{
		{ErrorTypeBusy, []string{"database is locked", "database table is locked", "sqlite_busy"}},
		{ErrorTypeConnectivity, []string{
			"unable to open database file",
			"connection refused",
			"connection reset",
			"connection closed",
			"conn closed",
			"no such host",
			"dial tcp",
			"dial unix",
			"eof",
			"broken pipe",
			"network is unreachable",
			"no route to host",
			"sql: database is closed",
		}},
		{ErrorTypeTimeout, []string{"timeout", "deadline exceeded", "timed out"}},
		{ErrorTypeAuth, []string{"authentication failed", "password authentication", "permission denied", "access denied"}},
		{ErrorTypeQuery, []string{"syntax error", "no such table", "no such column", "does not exist", "has no column"}},
	} {
		for _, p := range c.patterns {
			if strings.Contains(errStr, p) {
				return c.typ
			}
		}
	}
	return ErrorTypeUnknown
}

func classifySQLState(code string) ErrorType {
	switch {
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03", code == "53300":
		return ErrorTypeConnectivity
	case code == "57014":
		return ErrorTypeTimeout
	case strings.HasPrefix(code, "28"):
		return ErrorTypeAuth
	case code == "40001", code == "40P01", code == "55P03":
		return ErrorTypeBusy
	case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
		return ErrorTypeQuery
	default:
		return ErrorTypeUnknown
	}
}

// UserMessage returns a user-facing message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeBusy:
		return "Snapshot store temporarily unavailable. Please try again in a moment."
	case ErrorTypeTimeout:
		return "Request timed out. Please try again."
	case ErrorTypeAuth:
		return "Snapshot store authentication error."
	case ErrorTypeQuery:
		return "Invalid query. Please check your input."
	default:
		return "An unexpected error occurred."
	}
}
