package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/media"
	"github.com/raine/microstock-tagger/internal/workflow"
	"github.com/rs/zerolog/log"
)

const (
	uploadField       = "image"
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
	sseHeartbeat      = 25 * time.Second
)

// uploadError is a rejected upload with the status to answer with.
type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

func badUpload(status int, format string, args ...any) error {
	return &uploadError{status: status, message: fmt.Sprintf(format, args...)}
}

func uploadStatus(err error) int {
	var ue *uploadError
	if errors.As(err, &ue) {
		return ue.status
	}
	return http.StatusInternalServerError
}

// readMultipartImage parses the multipart body of r and returns the image in
// the "image" field. The body must already be size limited.
func (s *Server) readMultipartImage(r *http.Request) (*workflow.File, error) {
	if r.ContentLength > s.maxUpload+multipartOverhead {
		return nil, badUpload(http.StatusRequestEntityTooLarge, "file exceeds %s", humanBytes(s.maxUpload))
	}
	if err := r.ParseMultipartForm(min(s.maxUpload, multipartMemory)); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, badUpload(http.StatusRequestEntityTooLarge, "file exceeds %s", humanBytes(s.maxUpload))
		}
		return nil, badUpload(http.StatusBadRequest, "could not parse form: %v", err)
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return nil, badUpload(http.StatusBadRequest, "%s is required", uploadField)
	}
	defer file.Close()

	return s.newFile(header.Filename, header.Header.Get("Content-Type"), file)
}

func (s *Server) newFile(name, declaredMIME string, r io.Reader) (*workflow.File, error) {
	image, err := llm.ReadImage(io.LimitReader(r, s.maxUpload+1), declaredMIME)
	if err != nil {
		return nil, badUpload(http.StatusBadRequest, "could not read file")
	}
	return s.validateImage(name, image)
}

func (s *Server) validateImage(name string, image llm.Image) (*workflow.File, error) {
	if image.Size() == 0 {
		return nil, badUpload(http.StatusBadRequest, "empty file")
	}
	if int64(image.Size()) > s.maxUpload {
		return nil, badUpload(http.StatusRequestEntityTooLarge, "file exceeds %s", humanBytes(s.maxUpload))
	}
	if !llm.IsImageMIME(image.MIMEType) {
		return nil, badUpload(http.StatusUnsupportedMediaType, "only image files are accepted, got %s", image.MIMEType)
	}
	if name == "" {
		name = "image"
	}
	return &workflow.File{Name: name, Image: image}, nil
}

// GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	s.renderPage(w, http.StatusOK, session.Snapshot(), r.URL.Query().Get("notice"))
}

func (s *Server) renderPage(w http.ResponseWriter, status int, state workflow.State, notice string) {
	data := newPageData(state, s.maxUpload)
	data.Notice = notice

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		log.Error().Err(err).Msg("failed to render page")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// POST /upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)

	file, err := s.readMultipartImage(r)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID()).Msg("rejected upload")
		s.renderPage(w, uploadStatus(err), session.Snapshot(), err.Error())
		return
	}

	if _, err := session.SelectFile(llm.WithCaller(r.Context(), "web"), file); err != nil {
		s.renderPage(w, http.StatusInternalServerError, session.Snapshot(), "Could not store the image preview. Try again.")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// POST /generate
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	session.Dispatch(llm.WithCaller(r.Context(), "web"), workflow.GenerateRequested{})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// POST /reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	session.Dispatch(r.Context(), workflow.ResetRequested{})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GET /preview/{key}. Only the session's own preview is served.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	session := s.session(w, r)
	if key == "" || session.Snapshot().Preview.Key != key {
		http.NotFound(w, r)
		return
	}

	body, contentType, err := s.previews.Open(r.Context(), key)
	if errors.Is(err, media.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to open preview")
		http.Error(w, "failed to open preview", http.StatusBadGateway)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, body); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("preview copy interrupted")
	}
}

// GET /events streams the session's state as Server-Sent Events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("could not clear write deadline for event stream")
	}

	changes := session.Broker().Subscribe()
	defer session.Broker().Unsubscribe(changes)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "state", newStateResponse(session.Snapshot())); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, open := <-changes:
			if !open {
				return
			}
			if err := writeEvent(w, "state", newStateResponse(change.Current)); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
