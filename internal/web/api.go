package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/storage"
	"github.com/raine/microstock-tagger/internal/workflow"
	"github.com/rs/zerolog/log"
)

const (
	defaultUsageWindow = 24 * time.Hour
	defaultUsageRecent = 20
)

type imageRequest struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

type errorResponse struct {
	Error string         `json:"error"`
	State *stateResponse `json:"state,omitempty"`
}

// GET /api/state
func (s *Server) apiState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStateResponse(s.session(w, r).Snapshot()))
}

// POST /api/image accepts a multipart "image" field or a JSON body with a
// data URL, the form the browser FileReader produces.
func (s *Server) apiImage(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)

	var (
		file *workflow.File
		err  error
	)
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
		file, err = s.readMultipartImage(r)
	} else {
		// base64 grows the payload by a third
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload*4/3+multipartOverhead)
		file, err = s.readJSONImage(r)
	}
	if err != nil {
		writeError(w, uploadStatus(err), err.Error())
		return
	}

	state, err := session.SelectFile(llm.WithCaller(r.Context(), "api"), file)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID()).Msg("failed to select file")
		writeError(w, http.StatusInternalServerError, "could not store the image preview")
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(state))
}

func (s *Server) readJSONImage(r *http.Request) (*workflow.File, error) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, badUpload(http.StatusRequestEntityTooLarge, "file exceeds %s", humanBytes(s.maxUpload))
		}
		return nil, badUpload(http.StatusBadRequest, "invalid request body")
	}
	if req.Image == "" {
		return nil, badUpload(http.StatusBadRequest, "image is required")
	}

	image, err := llm.DecodeDataURL(req.Image)
	if err != nil {
		return nil, badUpload(http.StatusBadRequest, "%v", err)
	}
	return s.validateImage(req.Filename, image)
}

// POST /api/generate answers 202 when the generation started and 409 when the
// workflow rejected the request. With ?wait=true it blocks until the
// generation settles and answers with the final state.
func (s *Server) apiGenerate(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	var changes chan workflow.Change
	if wait {
		changes = session.Broker().Subscribe()
		defer session.Broker().Unsubscribe(changes)
	}

	state, changed := session.Dispatch(llm.WithCaller(r.Context(), "api"), workflow.GenerateRequested{})
	if !changed {
		resp := newStateResponse(state)
		reason := "a generation is already running"
		if !state.HasFile() {
			reason = "no image selected"
		}
		writeJSON(w, http.StatusConflict, errorResponse{Error: reason, State: &resp})
		return
	}
	if !wait {
		writeJSON(w, http.StatusAccepted, newStateResponse(state))
		return
	}

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("could not clear write deadline")
	}
	for state.Status == workflow.StatusAnalyzing {
		select {
		case <-r.Context().Done():
			return
		case change, open := <-changes:
			if !open {
				writeError(w, http.StatusServiceUnavailable, "session closed")
				return
			}
			state = change.Current
		}
	}
	writeJSON(w, http.StatusOK, newStateResponse(state))
}

// POST /api/reset
func (s *Server) apiReset(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	state, _ := session.Dispatch(r.Context(), workflow.ResetRequested{})
	writeJSON(w, http.StatusOK, newStateResponse(state))
}

type usageResponse struct {
	Since        time.Time         `json:"since"`
	Calls        int64             `json:"calls"`
	Successes    int64             `json:"successes"`
	Failures     int64             `json:"failures"`
	InputTokens  int64             `json:"inputTokens"`
	OutputTokens int64             `json:"outputTokens"`
	CostUSD      float64           `json:"costUsd"`
	ByModel      []modelUsageJSON  `json:"byModel"`
	Recent       []usageRecordJSON `json:"recent"`
}

type modelUsageJSON struct {
	Model   string  `json:"model"`
	Calls   int64   `json:"calls"`
	CostUSD float64 `json:"costUsd"`
}

type usageRecordJSON struct {
	ID           string    `json:"id"`
	Caller       string    `json:"caller"`
	Model        string    `json:"model"`
	Outcome      string    `json:"outcome"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CostUSD      float64   `json:"costUsd"`
	DurationMS   int64     `json:"durationMs"`
	ImageBytes   int       `json:"imageBytes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GET /api/usage?since=168h&limit=20
func (s *Server) apiUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusNotFound, "usage ledger disabled")
		return
	}

	window := defaultUsageWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since %q", v))
			return
		}
		window = d
	}
	limit := defaultUsageRecent
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	summary, err := s.usage.Summary(r.Context(), time.Now().Add(-window))
	if err != nil {
		log.Error().Err(err).Msg("failed to load usage summary")
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	recent, err := s.usage.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to load recent usage")
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	writeJSON(w, http.StatusOK, newUsageResponse(summary, recent))
}

func newUsageResponse(summary *storage.UsageSummary, recent []storage.UsageRecord) usageResponse {
	resp := usageResponse{
		Since:        summary.Since,
		Calls:        summary.Calls,
		Successes:    summary.Successes,
		Failures:     summary.Failures,
		InputTokens:  summary.InputTokens,
		OutputTokens: summary.OutputTokens,
		CostUSD:      summary.CostUSD,
		ByModel:      make([]modelUsageJSON, 0, len(summary.ByModel)),
		Recent:       make([]usageRecordJSON, 0, len(recent)),
	}
	for _, m := range summary.ByModel {
		resp.ByModel = append(resp.ByModel, modelUsageJSON{Model: m.Model, Calls: m.Calls, CostUSD: m.CostUSD})
	}
	for _, rec := range recent {
		resp.Recent = append(resp.Recent, usageRecordJSON{
			ID:           rec.ID,
			Caller:       rec.Caller,
			Model:        rec.Model,
			Outcome:      rec.Outcome,
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			CostUSD:      rec.CostUSD,
			DurationMS:   rec.Duration.Milliseconds(),
			ImageBytes:   rec.ImageBytes,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Debug().Err(err).Msg("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeEvent writes one Server-Sent Event with a JSON payload.
func writeEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
