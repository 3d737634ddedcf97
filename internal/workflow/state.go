// Package workflow holds the upload, generate and display cycle for one
// browser session or chat.
package workflow

import (
	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/media"
)

// Status is the workflow's position in the generation cycle.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusAnalyzing Status = "ANALYZING"
	StatusSuccess   Status = "SUCCESS"
	StatusError     Status = "ERROR"
)

// GenericErrorMessage is the only failure text shown to users. The cause is
// logged and recorded with the ErrorKind.
const GenericErrorMessage = "Failed to analyze the image. Make sure the API key is valid or try another image."

// File is the selected image with its original name.
type File struct {
	Name string
	llm.Image
}

// State is the workflow state of one session.
type State struct {
	File         *File
	Preview      media.Handle
	Status       Status
	Result       *llm.StockMetadata
	ErrorMessage string
	ErrorKind    llm.ErrorKind
	// Attempt increments on every accepted generate request.
	Attempt uint64
}

// NewState returns the initial Idle state.
func NewState() State {
	return State{Status: StatusIdle}
}

// CanGenerate reports whether a GenerateRequested event would be accepted.
func (s State) CanGenerate() bool {
	return s.File != nil && s.Status != StatusAnalyzing
}

// HasFile reports whether a file is selected.
func (s State) HasFile() bool {
	return s.File != nil
}

func (s State) equal(o State) bool {
	return s.File == o.File &&
		s.Preview == o.Preview &&
		s.Status == o.Status &&
		s.Result == o.Result &&
		s.ErrorMessage == o.ErrorMessage &&
		s.ErrorKind == o.ErrorKind &&
		s.Attempt == o.Attempt
}

// Event is an input to Reduce.
type Event interface {
	eventName() string
}

// FileSelected replaces the current file and preview.
type FileSelected struct {
	File    *File
	Preview media.Handle
}

// GenerateRequested starts a generation for the selected file.
type GenerateRequested struct{}

// GenerationSucceeded delivers the metadata for an attempt.
type GenerationSucceeded struct {
	Attempt  uint64
	Metadata *llm.StockMetadata
}

// GenerationFailed delivers the failure of an attempt.
type GenerationFailed struct {
	Attempt uint64
	Err     error
}

// ResetRequested clears everything back to the initial state.
type ResetRequested struct{}

func (FileSelected) eventName() string        { return "file_selected" }
func (GenerateRequested) eventName() string   { return "generate_requested" }
func (GenerationSucceeded) eventName() string { return "generation_succeeded" }
func (GenerationFailed) eventName() string    { return "generation_failed" }
func (ResetRequested) eventName() string      { return "reset_requested" }

// Reduce applies ev to s and returns the next state. It has no side effects;
// releasing previews and running the generation belong to Session.
// Events that a guard rejects return s unchanged.
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case FileSelected:
		if ev.File == nil {
			return s
		}
		return State{
			File:    ev.File,
			Preview: ev.Preview,
			Status:  StatusIdle,
			Attempt: s.Attempt,
		}

	case GenerateRequested:
		if !s.CanGenerate() {
			return s
		}
		next := s
		next.Status = StatusAnalyzing
		next.Result = nil
		next.ErrorMessage = ""
		next.ErrorKind = llm.KindNone
		next.Attempt = s.Attempt + 1
		return next

	case GenerationSucceeded:
		if s.Status != StatusAnalyzing || ev.Attempt != s.Attempt {
			return s
		}
		next := s
		if ev.Metadata == nil {
			next.Status = StatusError
			next.ErrorMessage = GenericErrorMessage
			next.ErrorKind = llm.KindGeneration
			return next
		}
		next.Status = StatusSuccess
		next.Result = ev.Metadata
		return next

	case GenerationFailed:
		if s.Status != StatusAnalyzing || ev.Attempt != s.Attempt {
			return s
		}
		next := s
		next.Status = StatusError
		next.Result = nil
		next.ErrorMessage = GenericErrorMessage
		next.ErrorKind = llm.KindOf(ev.Err)
		if next.ErrorKind == llm.KindNone {
			next.ErrorKind = llm.KindGeneration
		}
		return next

	case ResetRequested:
		return State{Status: StatusIdle, Attempt: s.Attempt}
	}

	return s
}
