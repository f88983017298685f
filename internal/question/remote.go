package question

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trowell/greenroom/internal/transport"
)

// RemoteSource adapts the interviewer transport to the Source interface. It
// pins the connection epoch at open time so events from earlier connections
// never leak into the session.
//
// Close stops event forwarding but leaves the transport connection up; the
// channel outlives sessions and is torn down by an explicit Disconnect.
type RemoteSource struct {
	client *transport.Client
	logger *slog.Logger

	mu     sync.Mutex
	opened bool
	closed bool
	stop   chan struct{}

	events chan Event
}

// NewRemoteSource constructs a live source over an existing transport client.
func NewRemoteSource(client *transport.Client, logger *slog.Logger) *RemoteSource {
	return &RemoteSource{
		client: client,
		logger: logger,
		stop:   make(chan struct{}),
		events: make(chan Event, 8),
	}
}

func (s *RemoteSource) Provenance() string { return ProvenanceLive }

func (s *RemoteSource) Events() <-chan Event { return s.events }

// Open connects (or reuses an existing connection), waits for the channel to
// come up within ctx's deadline, and sends init_session. The opening question
// arrives later on Events.
func (s *RemoteSource) Open(ctx context.Context, params Params) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSourceClosed
	}
	if s.opened {
		s.mu.Unlock()
		return errors.New("remote source already opened")
	}
	s.opened = true
	s.mu.Unlock()

	s.client.Connect(ctx)
	epoch := s.client.Epoch()

	opened := make(chan struct{})
	var openOnce sync.Once
	signalOpened := func() { openOnce.Do(func() { close(opened) }) }
	failed := make(chan string, 1)

	// Reused connections are already up; the opened event was consumed by a
	// prior session.
	alreadyConnected := s.client.Snapshot().State == transport.StateConnected
	go s.forward(epoch, alreadyConnected, signalOpened, failed)
	if alreadyConnected {
		signalOpened()
	}

	select {
	case <-opened:
	case reason := <-failed:
		return fmt.Errorf("interviewer connection failed: %s", reason)
	case <-ctx.Done():
		return fmt.Errorf("interviewer connection: %w", ctx.Err())
	}

	return s.client.InitSession(params.Topic, params.Level, params.DurationMinutes, params.UserID, params.SessionID)
}

// forward relays transport events for the pinned epoch into source events.
func (s *RemoteSource) forward(epoch uint64, openSeen bool, signalOpened func(), failed chan string) {
	transportEvents := s.client.Events()

	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-transportEvents:
			if !ok {
				return
			}
			if event.Epoch != epoch {
				continue
			}

			switch event.Kind {
			case transport.EventOpened:
				if !openSeen {
					openSeen = true
					signalOpened()
				}
			case transport.EventQuestion:
				s.emit(Event{Kind: EventQuestion, Question: event.Question})
			case transport.EventReport:
				report := Report{
					Score:      event.Report.Score,
					Feedback:   event.Report.Feedback,
					Strengths:  event.Report.Strengths,
					Weaknesses: event.Report.Weaknesses,
					Transcript: event.Report.Transcript,
					Provenance: ProvenanceLive,
				}
				s.emit(Event{Kind: EventReport, Report: &report})
			case transport.EventError:
				if !openSeen {
					select {
					case failed <- event.Reason:
					default:
					}
					continue
				}
				s.emit(Event{Kind: EventError, Reason: event.Reason})
			case transport.EventClosed:
				if openSeen {
					s.emit(Event{Kind: EventError, Reason: "interviewer connection closed"})
				}
			}
		}
	}
}

// SubmitAnswer forwards the accumulated transcript to the remote service.
func (s *RemoteSource) SubmitAnswer(_ context.Context, text string) error {
	if err := s.client.SubmitAnswer(text); err != nil {
		// State-machine gating should make this unreachable; log and keep the
		// session in its current phase.
		if s.logger != nil {
			s.logger.Error("answer submitted while disconnected", "error", err.Error())
		}
		return err
	}
	return nil
}

// RequestReport asks the remote service to conclude the session.
func (s *RemoteSource) RequestReport(_ context.Context) error {
	return s.client.EndSession()
}

// Close stops event forwarding. Idempotent.
func (s *RemoteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	return nil
}

// emit queues an event unless the source was closed.
func (s *RemoteSource) emit(event Event) {
	select {
	case <-s.stop:
	case s.events <- event:
	default:
		if s.logger != nil {
			s.logger.Warn("remote source event dropped, consumer stalled", "kind", string(event.Kind))
		}
	}
}
