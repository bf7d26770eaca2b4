package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dyluth/hivemind/pkg/knowledge"
)

// maxSearchLimit caps the limit a caller may request; larger limits are
// clamped.
const maxSearchLimit = 500

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req knowledge.AddRequest
	if !s.decode(w, r, &req) {
		return
	}

	entry, err := entryFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.backend.Add(r.Context(), entry)
	if err != nil {
		if knowledge.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("add failed", "topic", entry.Topic, "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// entryFromRequest builds and validates an Entry from the wire form. A
// supplied identity hash is kept so clients can fold metadata into it.
func entryFromRequest(req knowledge.AddRequest) (knowledge.Entry, error) {
	md, err := knowledge.DecodeMetadata(req.Metadata)
	if err != nil {
		return knowledge.Entry{}, err
	}

	var opts []knowledge.EntryOption
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, req.Timestamp)
		if err != nil {
			return knowledge.Entry{}, &knowledge.ValidationError{Field: "timestamp", Reason: "not RFC3339"}
		}
		opts = append(opts, knowledge.WithTimestamp(ts))
	}

	e, err := knowledge.NewEntry(req.Topic, req.Content, req.Source, req.Tags, req.MemoryType, md, opts...)
	if err != nil {
		return knowledge.Entry{}, err
	}
	if req.IdentityHash != "" {
		e.IdentityHash = req.IdentityHash
		if err := e.Validate(); err != nil {
			return knowledge.Entry{}, err
		}
	}
	return e, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req knowledge.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.MemoryType != "" {
		if err := req.MemoryType.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be >= 0"))
		return
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}

	entries, err := s.backend.Search(r.Context(), knowledge.Filter{
		Query: req.Query,
		Limit: req.Limit,
		Kind:  req.MemoryType,
		Tags:  req.Tags,
	})
	if err != nil {
		s.logger.Error("search failed", "query", req.Query, "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	res := knowledge.QueryResponse{Results: make([]knowledge.RawEntry, 0, len(entries))}
	for _, e := range entries {
		raw, err := knowledge.ToRawEntry(e)
		if err != nil {
			s.logger.Warn("skipping unencodable entry", "id", e.ID, "error", err)
			continue
		}
		res.Results = append(res.Results, raw)
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHealth returns 200 if the backend answers a ping within 2s and 503
// otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, knowledge.HealthResponse{
			Status: "unavailable",
			Error:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, knowledge.HealthResponse{Status: "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decode reads a JSON body strictly. On failure it writes the error response
// and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	err := dec.Decode(v)
	if err == nil && dec.More() {
		err = fmt.Errorf("unexpected data after JSON body")
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, fmt.Errorf("request body is empty"))
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, knowledge.ErrorResponse{Error: err.Error()})
}
