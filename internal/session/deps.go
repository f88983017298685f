package session

import (
	"context"

	"github.com/trowell/greenroom/internal/question"
)

// Media is the session-facing subset of capture behavior. The coordinator
// never holds hardware handles; ownership stays inside the adapter.
type Media interface {
	StartCapture(ctx context.Context) error
	StopCapture()
	StartTranscription(ctx context.Context) error
	StopTranscription()
	Fragments() <-chan string
	TranscriptionAvailable() bool
}

// noopMedia preserves session flow when no capture is wired.
type noopMedia struct{}

func (noopMedia) StartCapture(context.Context) error       { return nil }
func (noopMedia) StopCapture()                             {}
func (noopMedia) StartTranscription(context.Context) error { return nil }
func (noopMedia) StopTranscription()                       {}
func (noopMedia) TranscriptionAvailable() bool             { return false }

func (noopMedia) Fragments() <-chan string {
	return nil
}

// SourceFactory builds a fresh question source for one session attempt.
type SourceFactory func() question.Source
