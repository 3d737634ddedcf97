package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/raine/microstock-tagger/config"
	"google.golang.org/genai"
)

// ErrorKind classifies why a generation failed.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindEncoding      ErrorKind = "encoding"
	KindConfiguration ErrorKind = "configuration"
	KindGeneration    ErrorKind = "generation"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response")

// EncodingError reports that the selected file could not be read or encoded.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode image: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// GenerationError covers transport failures, upstream errors, empty bodies
// and responses that do not match the metadata schema.
type GenerationError struct {
	Reason string
	Kind   ErrorKind
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil || e.Err == ErrEmptyResponse {
		return "generation failed: " + e.Reason
	}
	return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func emptyResponseError() error {
	return &GenerationError{Reason: "empty response", Kind: KindGeneration, Err: ErrEmptyResponse}
}

func parseError(err error) error {
	return &GenerationError{Reason: "invalid response", Kind: KindGeneration, Err: err}
}

// upstreamError wraps an error from a provider SDK. Rejected credentials are
// classified as configuration problems.
func upstreamError(err error) error {
	kind := KindGeneration
	reason := "request failed"

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timed out"
	case errors.Is(err, context.Canceled):
		reason = "cancelled"
	case isAuthFailure(err):
		kind = KindConfiguration
		reason = "credentials rejected"
	}

	return &GenerationError{Reason: reason, Kind: kind, Err: err}
}

func isAuthFailure(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return authStatus(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return authStatus(apiErrPtr.Code, apiErrPtr.Message)
	}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return authStatus(oaErr.StatusCode, oaErr.Message)
	}
	return false
}

// Gemini reports an invalid key as 400 INVALID_ARGUMENT, so the message is checked too.
func authStatus(code int, message string) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(message), "api key")
	}
	return false
}

// KindOf classifies any error returned on the generation path.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var encErr *EncodingError
	if errors.As(err, &encErr) {
		return KindEncoding
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return KindConfiguration
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) && genErr.Kind != KindNone {
		return genErr.Kind
	}
	return KindGeneration
}
