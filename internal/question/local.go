package question

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrSourceClosed indicates an operation against a closed or never-opened source.
var ErrSourceClosed = errors.New("question source is closed")

// LocalSource serves questions from a static bank and synthesizes a
// fixed-shape report, emulating the remote interviewer when it is
// unreachable. Question order is deterministic: the topic's prompts in bank
// order, wrapping around. Latency simulates the remote round trip and is
// configurable rather than baked in.
type LocalSource struct {
	bank    *Bank
	latency time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	opened  bool
	closed  bool
	prompts []string
	next    int
	answers []string
	timers  []*time.Timer

	events chan Event
}

// NewLocalSource constructs an offline source over the given bank.
func NewLocalSource(bank *Bank, latency time.Duration, logger *slog.Logger) *LocalSource {
	if latency < 0 {
		latency = 0
	}
	return &LocalSource{
		bank:    bank,
		latency: latency,
		logger:  logger,
		events:  make(chan Event, 8),
	}
}

func (s *LocalSource) Provenance() string { return ProvenanceLocal }

func (s *LocalSource) Events() <-chan Event { return s.events }

// Open resolves the topic's prompt list and schedules the opening question.
func (s *LocalSource) Open(_ context.Context, params Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	if s.opened {
		return errors.New("local source already opened")
	}

	prompts, err := s.bank.Prompts(params.Topic)
	if err != nil {
		return err
	}
	if !s.bank.Has(params.Topic) && s.logger != nil {
		s.logger.Warn("unknown topic, using default bank", "topic", params.Topic, "default", DefaultTopic)
	}

	s.opened = true
	s.prompts = prompts
	s.next = 0
	s.scheduleLocked(s.questionEventLocked())
	return nil
}

// SubmitAnswer records the answer and schedules the deterministic follow-up.
func (s *LocalSource) SubmitAnswer(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.opened {
		return ErrSourceClosed
	}

	s.answers = append(s.answers, strings.TrimSpace(text))
	s.scheduleLocked(s.questionEventLocked())
	return nil
}

// RequestReport schedules the synthetic report.
func (s *LocalSource) RequestReport(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.opened {
		return ErrSourceClosed
	}

	report := s.buildReportLocked()
	s.scheduleLocked(Event{Kind: EventReport, Report: &report})
	return nil
}

// Close drops any scheduled events and marks the source terminal.
func (s *LocalSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.timers = nil
	return nil
}

// questionEventLocked advances the prompt cursor, wrapping at the end.
func (s *LocalSource) questionEventLocked() Event {
	prompt := s.prompts[s.next%len(s.prompts)]
	s.next++
	return Event{Kind: EventQuestion, Question: prompt}
}

// scheduleLocked emits an event after the simulated latency window.
func (s *LocalSource) scheduleLocked(event Event) {
	timer := time.AfterFunc(s.latency, func() {
		s.emit(event)
	})
	s.timers = append(s.timers, timer)
}

// emit delivers an event unless the source has been closed meanwhile.
func (s *LocalSource) emit(event Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.events <- event:
	default:
		if s.logger != nil {
			s.logger.Warn("local source event dropped, consumer stalled", "kind", string(event.Kind))
		}
	}
}

// buildReportLocked synthesizes the placeholder offline report. The shape is
// fixed so callers can always rely on a numeric score and non-empty
// strength/weakness lists.
func (s *LocalSource) buildReportLocked() Report {
	answered := len(s.answers)

	score := 60 + 5*answered
	if score > 85 {
		score = 85
	}

	transcript := strings.TrimSpace(strings.Join(s.answers, " "))

	return Report{
		Score: score,
		Feedback: fmt.Sprintf(
			"Offline practice session: you answered %d question(s). "+
				"This report is a scripted placeholder; connect to the live interviewer for graded feedback.",
			answered,
		),
		Strengths: []string{
			"Completed a full practice round end to end",
			"Kept answers flowing without restarting the session",
		},
		Weaknesses: []string{
			"Offline mode cannot evaluate answer content",
			"Try a live session for question-specific feedback",
		},
		Transcript: transcript,
		Provenance: ProvenanceLocal,
	}
}
