package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/media"
	"github.com/rs/zerolog/log"
)

// ErrSessionClosed is returned when a stopped session receives work.
var ErrSessionClosed = errors.New("session closed")

const (
	msgSelectFile = "select_file"
	msgEvent      = "event"
)

// SessionMessage is a unit of work for the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	Event Event // For msgEvent
	File  *File // For msgSelectFile

	reply *dispatchReply
}

type dispatchReply struct {
	changed   bool
	err       error
	processed bool // false when the message was drained on shutdown
}

// SessionConfig holds the dependencies shared by all sessions.
type SessionConfig struct {
	Generator llm.Generator
	Previews  media.Store
	Timeout   time.Duration
}

// Session runs one workflow.
//
// Threading model:
//   - A dedicated worker goroutine applies every transition, so events never race
//   - The generation runs in its own goroutine and posts its result back to the inbox
//   - Snapshot and LastActive use the mutex and are safe from any goroutine
type Session struct {
	id  string
	cfg SessionConfig

	mu         sync.Mutex
	state      State
	lastActive time.Time

	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{} // closed when the worker has exited

	broker           *Broker
	cancelGeneration context.CancelFunc // worker only
}

// NewSession creates a session and starts its worker.
func NewSession(id string, cfg SessionConfig) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		cfg:        cfg,
		state:      NewState(),
		lastActive: time.Now(),
		inbox:      make(chan SessionMessage, 16),
		ctx:        ctx,
		cancel:     cancel,
		broker:     NewBroker(),
		stopped:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runWorker()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActive returns the time of the last accepted message.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Broker returns the broker publishing this session's changes.
func (s *Session) Broker() *Broker {
	return s.broker
}

// SelectFile stores a preview for file and makes it the current selection.
func (s *Session) SelectFile(ctx context.Context, file *File) (State, error) {
	if file == nil {
		return s.Snapshot(), errors.New("no file selected")
	}
	reply, err := s.sendSync(SessionMessage{Type: msgSelectFile, Ctx: ctx, File: file})
	if err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), reply.err
}

// Dispatch applies ev and reports whether the state changed. An unchanged
// state means a guard rejected the event.
func (s *Session) Dispatch(ctx context.Context, ev Event) (State, bool) {
	if ev == nil {
		return s.Snapshot(), false
	}
	reply, err := s.sendSync(SessionMessage{Type: msgEvent, Ctx: ctx, Event: ev})
	if err != nil {
		return s.Snapshot(), false
	}
	return s.Snapshot(), reply.changed
}

func (s *Session) sendSync(msg SessionMessage) (*dispatchReply, error) {
	msg.reply = &dispatchReply{}
	msg.Done = make(chan struct{})
	if msg.Ctx == nil {
		msg.Ctx = context.Background()
	}
	s.Send(msg)
	select {
	case <-msg.Done:
	case <-s.stopped:
	}
	if !msg.reply.processed {
		return nil, ErrSessionClosed
	}
	return msg.reply, nil
}

// Send queues a message for processing by the worker.
// This is non-blocking - it returns immediately after queuing.
func (s *Session) Send(msg SessionMessage) {
	if s.ctx.Err() != nil {
		if msg.Done != nil {
			close(msg.Done)
		}
		return
	}
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// Stop cancels any generation, stops the worker and releases the preview.
func (s *Session) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	preview := s.state.Preview
	s.mu.Unlock()
	s.releasePreview(preview)
	s.broker.Close()
}

func (s *Session) runWorker() {
	defer s.wg.Done()
	defer close(s.stopped)

	for {
		select {
		case <-s.ctx.Done():
			if s.cancelGeneration != nil {
				s.cancelGeneration()
			}
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

// processMessage handles a single message from the inbox.
func (s *Session) processMessage(msg SessionMessage) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Str("sessionId", s.id).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
			if msg.reply != nil && msg.reply.err == nil {
				msg.reply.err = fmt.Errorf("session worker panic: %v", r)
			}
		}
		if msg.reply != nil {
			msg.reply.processed = true
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	switch msg.Type {
	case msgSelectFile:
		s.handleSelectFile(msg)
	case msgEvent:
		changed := s.apply(msg.Ctx, msg.Event)
		if msg.reply != nil {
			msg.reply.changed = changed
		}
	default:
		log.Warn().Str("sessionId", s.id).Str("type", msg.Type).Msg("unknown session message")
	}
}

func (s *Session) handleSelectFile(msg SessionMessage) {
	file := msg.File
	preview, err := s.cfg.Previews.Put(msg.Ctx, media.PutInput{
		Filename:    file.Name,
		ContentType: file.MIMEType,
		Data:        file.Data,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", s.id).Str("file", file.Name).Msg("failed to store preview")
		if msg.reply != nil {
			msg.reply.err = fmt.Errorf("failed to store preview: %w", err)
		}
		return
	}

	changed := s.apply(msg.Ctx, FileSelected{File: file, Preview: preview})
	if msg.reply != nil {
		msg.reply.changed = changed
	}
}

// apply reduces ev and performs the side effects of the transition.
// Called from the worker only.
func (s *Session) apply(ctx context.Context, ev Event) bool {
	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, ev)
	s.state = next
	s.lastActive = time.Now()
	s.mu.Unlock()

	if prev.equal(next) {
		log.Debug().
			Str("sessionId", s.id).
			Str("event", ev.eventName()).
			Str("status", string(prev.Status)).
			Msg("event ignored")
		return false
	}

	log.Info().
		Str("sessionId", s.id).
		Str("event", ev.eventName()).
		Str("from", string(prev.Status)).
		Str("to", string(next.Status)).
		Uint64("attempt", next.Attempt).
		Msg("workflow transition")

	if prev.Status == StatusAnalyzing && next.Status != StatusAnalyzing && s.cancelGeneration != nil {
		s.cancelGeneration()
		s.cancelGeneration = nil
	}
	if !prev.Preview.IsZero() && prev.Preview != next.Preview {
		s.releasePreview(prev.Preview)
	}
	if next.Attempt != prev.Attempt && next.Status == StatusAnalyzing {
		s.startGeneration(llm.CallerFrom(ctx), next.Attempt, next.File.Image)
	}
	if next.Status == StatusError {
		if failed, ok := ev.(GenerationFailed); ok {
			log.Error().
				Err(failed.Err).
				Str("sessionId", s.id).
				Str("kind", string(next.ErrorKind)).
				Uint64("attempt", next.Attempt).
				Msg("metadata generation failed")
		}
	}

	s.broker.Publish(Change{SessionID: s.id, Previous: prev, Current: next})
	return true
}

// startGeneration runs the request outside the worker; its outcome comes back
// through the inbox tagged with the attempt. Called from the worker only.
func (s *Session) startGeneration(caller string, attempt uint64, image llm.Image) {
	ctx, cancel := context.WithTimeout(llm.WithCaller(s.ctx, caller), s.cfg.Timeout)
	s.cancelGeneration = cancel

	go func() {
		defer cancel()

		var ev Event
		result, err := s.generate(ctx, image)
		switch {
		case err != nil:
			ev = GenerationFailed{Attempt: attempt, Err: err}
		case result == nil || result.Metadata == nil:
			ev = GenerationFailed{Attempt: attempt, Err: errors.New("generator returned no metadata")}
		default:
			ev = GenerationSucceeded{Attempt: attempt, Metadata: result.Metadata}
		}

		s.Send(SessionMessage{Type: msgEvent, Ctx: context.Background(), Event: ev})
	}()
}

func (s *Session) generate(ctx context.Context, image llm.Image) (result *llm.GenerationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("sessionId", s.id).Interface("panic", r).Msg("recovered from panic in generator")
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return s.cfg.Generator.GenerateMetadata(ctx, image)
}

func (s *Session) releasePreview(h media.Handle) {
	if h.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.cfg.Previews.Release(ctx, h.Key); err != nil {
		log.Warn().Err(err).Str("sessionId", s.id).Str("key", h.Key).Msg("failed to release preview")
	}
}
