package track

import (
	"errors"
	"fmt"
)

// Pipeline stage names, used in errors, warnings and trace entries.
const (
	StageDiscovery  = "discovery"
	StageRetrieval  = "retrieval"
	StageAnalysis   = "analysis"
	StageDescriptor = "descriptor"
	StageLyrics     = "lyrics"
)

// Code identifies a typed pipeline failure. The orchestrator decides
// fallback versus abort from the code, never from message text.
type Code string

const (
	CodeDiscoveryNoMatch          Code = "DISCOVERY_NO_MATCH"
	CodeRetrievalNotRetrievable   Code = "RETRIEVAL_NOT_RETRIEVABLE"
	CodeRetrievalFailed           Code = "RETRIEVAL_FAILED"
	CodeAnalysisDependencyMissing Code = "ANALYSIS_DEPENDENCY_MISSING"
	CodeAnalysisAudioLoadFailed   Code = "ANALYSIS_AUDIO_LOAD_FAILED"
	CodeDescriptorUnavailable     Code = "DESCRIPTOR_UNAVAILABLE"
	CodeLyricsUnavailable         Code = "LYRICS_UNAVAILABLE"
)

// StageError is a typed failure raised by a pipeline stage.
type StageError struct {
	Stage   string
	Code    Code
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Code, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// Errf builds a StageError with a formatted message.
func Errf(stage string, code Code, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a StageError preserving the underlying cause.
func Wrap(stage string, code Code, err error, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the failure code of err, or "" if err carries none.
func CodeOf(err error) Code {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given failure code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// TransportError reports that a provider could not be consulted at all
// (timeout, malformed response, auth failure). It is distinct from a
// provider answering "no data": transport failures mean "could not verify"
// and are excluded from confidence scoring.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError for the given provider operation.
func Transport(provider, op string, err error) *TransportError {
	return &TransportError{Provider: provider, Op: op, Err: err}
}

// IsTransport reports whether err is a provider transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
