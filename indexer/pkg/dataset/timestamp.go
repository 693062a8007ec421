package dataset

import (
	"fmt"
	"time"
)

// LabelLayout is the storage format of snapshot timestamp labels.
const LabelLayout = "2006-01-02_1504"

// Timestamp identifies a snapshot. It has minute precision and is always UTC;
// ordering uses the time value, the label exists only at the storage boundary.
type Timestamp struct {
	t time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC().Truncate(time.Minute)}
}

// ParseTimestamp parses a stored label such as "2024-03-05_1407".
func ParseTimestamp(label string) (Timestamp, error) {
	t, err := time.ParseInLocation(LabelLayout, label, time.UTC)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp label %q: %w", label, err)
	}
	return Timestamp{t: t}, nil
}

// MustParseTimestamp is ParseTimestamp for constants and tests.
func MustParseTimestamp(label string) Timestamp {
	ts, err := ParseTimestamp(label)
	if err != nil {
		panic(err)
	}
	return ts
}

func (ts Timestamp) Label() string {
	return ts.t.Format(LabelLayout)
}

func (ts Timestamp) String() string { return ts.Label() }

func (ts Timestamp) Time() time.Time { return ts.t }

func (ts Timestamp) IsZero() bool { return ts.t.IsZero() }

func (ts Timestamp) Before(o Timestamp) bool { return ts.t.Before(o.t) }

func (ts Timestamp) After(o Timestamp) bool { return ts.t.After(o.t) }

func (ts Timestamp) Equal(o Timestamp) bool { return ts.t.Equal(o.t) }

func (ts Timestamp) Compare(o Timestamp) int { return ts.t.Compare(o.t) }

func (ts Timestamp) MarshalText() ([]byte, error) {
	return []byte(ts.Label()), nil
}

func (ts *Timestamp) UnmarshalText(b []byte) error {
	parsed, err := ParseTimestamp(string(b))
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}
