package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/validator"
	"github.com/malbeclabs/netstate/utils/pkg/dberror"
)

const latestSnapshot = "latest"

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

type datasetsResponse struct {
	Datasets []string `json:"datasets"`
}

type timestampsResponse struct {
	Dataset    string              `json:"dataset"`
	Timestamps []dataset.Timestamp `json:"timestamps"`
}

type transitionsResponse struct {
	Rule        validator.Rule       `json:"rule"`
	Count       int                  `json:"count"`
	Transitions []transitionResponse `json:"transitions"`
}

type transitionResponse struct {
	Fields map[string]any    `json:"fields"`
	First  dataset.Timestamp `json:"first"`
	Last   dataset.Timestamp `json:"last"`
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	names, err := s.cfg.Store.Datasets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, datasetsResponse{Datasets: names})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.cfg.Store.Schema(r.Context(), chi.URLParam(r, "dataset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "dataset")
	ts, err := s.cfg.Store.Timestamps(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ts == nil {
		ts = []dataset.Timestamp{}
	}
	s.writeJSON(w, http.StatusOK, timestampsResponse{Dataset: name, Timestamps: ts})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "dataset")
	label := chi.URLParam(r, "timestamp")

	var (
		snap *dataset.Snapshot
		err  error
	)
	if label == latestSnapshot {
		snap, err = s.cfg.Store.LatestSnapshot(r.Context(), name)
	} else {
		ts, perr := dataset.ParseTimestamp(label)
		if perr != nil {
			s.writeError(w, r, errors.Join(errBadRequest, perr))
			return
		}
		snap, err = s.cfg.Store.ReadSnapshot(r.Context(), name, ts)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rule := validator.Rule{
		Dataset:           chi.URLParam(r, "dataset"),
		IdentifierColumns: splitList(q.Get("identifier")),
		ContextColumns:    splitList(q.Get("context")),
		ValidationColumn:  q.Get("column"),
		TimestampSource:   q.Get("timestamp_source"),
	}
	if q.Has("from") {
		rule.FromValue = q.Get("from")
	}
	if err := rule.Validate(); err != nil {
		s.writeError(w, r, errors.Join(errBadRequest, err))
		return
	}

	records, err := s.cfg.Validator.Validate(r.Context(), rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := transitionsResponse{Rule: rule, Count: len(records), Transitions: make([]transitionResponse, len(records))}
	for i, rec := range records {
		resp.Transitions[i] = transitionResponse{Fields: rec.Fields(), First: rec.First, Last: rec.Last}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := dberror.UserMessage(err)
	switch {
	case errors.Is(err, dataset.ErrDatasetNotFound), errors.Is(err, dataset.ErrColumnNotFound):
		status = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, errBadRequest), errors.Is(err, dataset.ErrInvalidDataset), errors.Is(err, dataset.ErrInvalidValue):
		status = http.StatusBadRequest
		msg = strings.TrimPrefix(err.Error(), errBadRequest.Error()+"\n")
	case errors.Is(err, dataset.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// splitList parses a comma-separated query value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
