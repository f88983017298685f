package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trowell/greenroom/internal/fsm"
	"github.com/trowell/greenroom/internal/ipc"
	"github.com/trowell/greenroom/internal/question"
)

type fakeMedia struct {
	fragments chan string

	captureErr error
	available  bool

	captureStarts      atomic.Int32
	captureStops       atomic.Int32
	transcriptStarts   atomic.Int32
	transcriptStops    atomic.Int32
	transcriptStartErr error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{fragments: make(chan string, 32), available: true}
}

func (f *fakeMedia) StartCapture(context.Context) error {
	f.captureStarts.Add(1)
	return f.captureErr
}

func (f *fakeMedia) StopCapture() { f.captureStops.Add(1) }

func (f *fakeMedia) StartTranscription(context.Context) error {
	f.transcriptStarts.Add(1)
	return f.transcriptStartErr
}

func (f *fakeMedia) StopTranscription() { f.transcriptStops.Add(1) }

func (f *fakeMedia) Fragments() <-chan string { return f.fragments }

func (f *fakeMedia) TranscriptionAvailable() bool { return f.available }

type fakeSource struct {
	events     chan question.Event
	provenance string

	openErr   error
	openBlock bool

	mu             sync.Mutex
	submitted      []string
	reportRequests atomic.Int32
	closes         atomic.Int32

	questionOnOpen  string
	reportOnRequest *question.Report
}

func newFakeSource(provenance string) *fakeSource {
	return &fakeSource{events: make(chan question.Event, 8), provenance: provenance}
}

func (s *fakeSource) Open(ctx context.Context, _ question.Params) error {
	if s.openBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.openErr != nil {
		return s.openErr
	}
	if s.questionOnOpen != "" {
		s.events <- question.Event{Kind: question.EventQuestion, Question: s.questionOnOpen}
	}
	return nil
}

func (s *fakeSource) SubmitAnswer(_ context.Context, text string) error {
	s.mu.Lock()
	s.submitted = append(s.submitted, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) RequestReport(context.Context) error {
	s.reportRequests.Add(1)
	if s.reportOnRequest != nil {
		s.events <- question.Event{Kind: question.EventReport, Report: s.reportOnRequest}
	}
	return nil
}

func (s *fakeSource) Events() <-chan question.Event { return s.events }

func (s *fakeSource) Provenance() string { return s.provenance }

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *fakeSource) answers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submitted...)
}

func testParams() question.Params {
	return question.Params{
		SessionID:       "sess-test",
		Topic:           "Behavioral",
		Level:           question.LevelMid,
		DurationMinutes: 15,
		UserID:          "user-1",
	}
}

func waitForPhase(t *testing.T, ctrl *Controller, desired fsm.Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.Phase() == desired {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s (current=%s)", desired, ctrl.Phase())
}

func TestControllerLiveFlow(t *testing.T) {
	media := newFakeMedia()
	live := newFakeSource(question.ProvenanceLive)
	live.questionOnOpen = "Tell me about yourself"
	live.reportOnRequest = &question.Report{
		Score:      82,
		Feedback:   "solid",
		Strengths:  []string{"clarity"},
		Weaknesses: []string{"pacing"},
		Provenance: question.ProvenanceLive,
	}

	ctrl := NewController(nil, media,
		func() question.Source { return live },
		func() question.Source { return newFakeSource(question.ProvenanceLocal) },
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	if got := ctrl.Snapshot().Question; got != "Tell me about yourself" {
		t.Fatalf("unexpected question: %q", got)
	}

	resp := ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandAnswer})
	if !resp.OK {
		t.Fatalf("answer response not OK: %+v", resp)
	}
	waitForPhase(t, ctrl, fsm.PhaseRecording)

	media.fragments <- "my name is"
	media.fragments <- "jordan rivers"

	resp = ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandDone})
	if !resp.OK {
		t.Fatalf("done response not OK: %+v", resp)
	}
	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)

	submitDeadline := time.Now().Add(time.Second)
	for time.Now().Before(submitDeadline) {
		if len(live.answers()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	answers := live.answers()
	if len(answers) != 1 || answers[0] != "my name is jordan rivers" {
		t.Fatalf("unexpected submitted answers: %#v", answers)
	}

	// Server sends the follow-up.
	live.events <- question.Event{Kind: question.EventQuestion, Question: "Why this role?"}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ctrl.Snapshot().Question == "Why this role?" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := ctrl.Snapshot().Question; got != "Why this role?" {
		t.Fatalf("follow-up question not applied: %q", got)
	}

	resp = ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandEnd})
	if !resp.OK {
		t.Fatalf("end response not OK: %+v", resp)
	}

	result := <-resultCh
	if result.Err != nil {
		t.Fatalf("unexpected result error: %v", result.Err)
	}
	if result.Phase != fsm.PhaseReported {
		t.Fatalf("expected reported phase, got %s", result.Phase)
	}
	if result.Report == nil || result.Report.Score != 82 {
		t.Fatalf("unexpected report: %+v", result.Report)
	}
	if result.Provenance != question.ProvenanceLive {
		t.Fatalf("unexpected provenance: %q", result.Provenance)
	}
	if result.Transcript != "my name is jordan rivers" {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}
	if live.reportRequests.Load() != 1 {
		t.Fatalf("expected exactly one report request, got %d", live.reportRequests.Load())
	}
	if media.captureStops.Load() == 0 {
		t.Fatalf("expected capture released on session end")
	}
}

func TestControllerServerInitiatedReport(t *testing.T) {
	media := newFakeMedia()
	live := newFakeSource(question.ProvenanceLive)
	live.questionOnOpen = "Tell me about yourself"

	ctrl := NewController(nil, media,
		func() question.Source { return live },
		func() question.Source { return newFakeSource(question.ProvenanceLocal) },
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandAnswer})
	waitForPhase(t, ctrl, fsm.PhaseRecording)
	media.fragments <- "closing answer"
	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandDone})
	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)

	// The server answers the final submission with the report directly
	// instead of the next question.
	live.events <- question.Event{Kind: question.EventReport, Report: &question.Report{
		Score:      77,
		Feedback:   "done early",
		Provenance: question.ProvenanceLive,
	}}

	result := <-resultCh
	if result.Err != nil {
		t.Fatalf("unexpected result error: %v", result.Err)
	}
	if result.Phase != fsm.PhaseReported {
		t.Fatalf("expected reported phase, got %s", result.Phase)
	}
	if result.Report == nil || result.Report.Score != 77 {
		t.Fatalf("unexpected report: %+v", result.Report)
	}
	if live.reportRequests.Load() != 0 {
		t.Fatalf("server-initiated report must not trigger a report request")
	}
	if result.Transcript != "closing answer" {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}
}

func TestControllerServerReportWhileRecordingFoldsTurn(t *testing.T) {
	media := newFakeMedia()
	live := newFakeSource(question.ProvenanceLive)
	live.questionOnOpen = "Tell me about yourself"

	ctrl := NewController(nil, media,
		func() question.Source { return live },
		func() question.Source { return newFakeSource(question.ProvenanceLocal) },
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandAnswer})
	waitForPhase(t, ctrl, fsm.PhaseRecording)

	stopsBefore := media.transcriptStops.Load()
	media.fragments <- "half an answer"
	live.events <- question.Event{Kind: question.EventReport, Report: &question.Report{
		Score:      64,
		Provenance: question.ProvenanceLive,
	}}

	result := <-resultCh
	if result.Err != nil {
		t.Fatalf("unexpected result error: %v", result.Err)
	}
	if result.Phase != fsm.PhaseReported {
		t.Fatalf("expected reported phase, got %s", result.Phase)
	}
	if result.Report == nil || result.Report.Score != 64 {
		t.Fatalf("unexpected report: %+v", result.Report)
	}
	if media.transcriptStops.Load() == stopsBefore {
		t.Fatalf("expected transcription stopped before the report landed")
	}
	if result.Transcript != "half an answer" {
		t.Fatalf("in-flight turn must be folded into the transcript, got %q", result.Transcript)
	}
}

func TestControllerFallsBackToLocalWithinGrace(t *testing.T) {
	media := newFakeMedia()
	live := newFakeSource(question.ProvenanceLive)
	live.openBlock = true

	ctrl := NewController(nil, media,
		func() question.Source { return live },
		func() question.Source {
			return question.NewLocalSource(question.Defaults(), 0, nil)
		},
		50*time.Millisecond,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)

	snapshot := ctrl.Snapshot()
	if snapshot.Provenance != question.ProvenanceLocal {
		t.Fatalf("expected local provenance, got %q", snapshot.Provenance)
	}
	if !strings.Contains(snapshot.Question, "Tell me about a time you faced a technical challenge") {
		t.Fatalf("expected a Behavioral bank question, got %q", snapshot.Question)
	}
	foundOffline := false
	for _, notice := range snapshot.Notices {
		if strings.Contains(notice, "offline") {
			foundOffline = true
		}
	}
	if !foundOffline {
		t.Fatalf("expected offline notice, got %#v", snapshot.Notices)
	}
	if live.closes.Load() == 0 {
		t.Fatalf("expected failed live source to be closed")
	}

	resp := ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandEnd})
	if !resp.OK {
		t.Fatalf("end response not OK: %+v", resp)
	}

	result := <-resultCh
	if result.Err != nil {
		t.Fatalf("unexpected result error: %v", result.Err)
	}
	if result.Report == nil {
		t.Fatalf("expected a synthesized report")
	}
	if result.Report.Provenance != question.ProvenanceLocal {
		t.Fatalf("unexpected report provenance: %q", result.Report.Provenance)
	}
	if result.Report.Score <= 0 || result.Report.Score > 100 {
		t.Fatalf("score out of range: %d", result.Report.Score)
	}
	if len(result.Report.Strengths) == 0 || len(result.Report.Weaknesses) == 0 {
		t.Fatalf("placeholder report missing strengths/weaknesses: %+v", result.Report)
	}
}

func TestControllerOfflineOnlyWhenNoLiveFactory(t *testing.T) {
	ctrl := NewController(nil, newFakeMedia(), nil,
		func() question.Source {
			return question.NewLocalSource(question.Defaults(), 0, nil)
		},
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	if ctrl.Snapshot().Provenance != question.ProvenanceLocal {
		t.Fatalf("expected local provenance")
	}

	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandEnd})
	result := <-resultCh
	if result.Report == nil {
		t.Fatalf("expected report, got %+v", result)
	}
}

func TestControllerMidSessionErrorDoesNotFallBack(t *testing.T) {
	media := newFakeMedia()
	live := newFakeSource(question.ProvenanceLive)
	live.questionOnOpen = "First question"

	ctrl := NewController(nil, media,
		func() question.Source { return live },
		func() question.Source { return newFakeSource(question.ProvenanceLocal) },
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandAnswer})
	waitForPhase(t, ctrl, fsm.PhaseRecording)

	stopsBefore := media.transcriptStops.Load()
	live.events <- question.Event{Kind: question.EventError, Reason: "socket closed"}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if media.transcriptStops.Load() > stopsBefore {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if media.transcriptStops.Load() == stopsBefore {
		t.Fatalf("expected transcription stopped on transport error")
	}

	snapshot := ctrl.Snapshot()
	if snapshot.Phase != fsm.PhaseRecording {
		t.Fatalf("expected phase preserved, got %s", snapshot.Phase)
	}
	if snapshot.Provenance != question.ProvenanceLive {
		t.Fatalf("expected live provenance preserved, got %q", snapshot.Provenance)
	}
	noticed := false
	for _, notice := range snapshot.Notices {
		if strings.Contains(notice, "socket closed") {
			noticed = true
		}
	}
	if !noticed {
		t.Fatalf("expected error notice, got %#v", snapshot.Notices)
	}

	cancel()
	result := <-resultCh
	if !result.Aborted {
		t.Fatalf("expected aborted result after cancel, got %+v", result)
	}
	if ctrl.Phase() != fsm.PhaseIdle {
		t.Fatalf("expected idle after abort, got %s", ctrl.Phase())
	}
}

func TestControllerAbortCommand(t *testing.T) {
	media := newFakeMedia()
	ctrl := NewController(nil, media, nil,
		func() question.Source {
			return question.NewLocalSource(question.Defaults(), 0, nil)
		},
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	resp := ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandAbort})
	if !resp.OK {
		t.Fatalf("abort response not OK: %+v", resp)
	}

	result := <-resultCh
	if !result.Aborted {
		t.Fatalf("expected aborted result")
	}
	if result.Report != nil {
		t.Fatalf("aborted session must not produce a report")
	}
	if ctrl.Phase() != fsm.PhaseIdle {
		t.Fatalf("expected idle after abort, got %s", ctrl.Phase())
	}
	if media.captureStops.Load() == 0 {
		t.Fatalf("expected capture released on abort")
	}
}

func TestControllerRestartClearsPriorReport(t *testing.T) {
	ctrl := NewController(nil, newFakeMedia(), nil,
		func() question.Source {
			return question.NewLocalSource(question.Defaults(), 0, nil)
		},
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()
	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandEnd})
	first := <-resultCh
	if first.Report == nil {
		t.Fatalf("first session should produce a report")
	}
	if ctrl.Phase() != fsm.PhaseReported {
		t.Fatalf("expected reported phase, got %s", ctrl.Phase())
	}

	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()
	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)

	ctrl.mu.RLock()
	report := ctrl.report
	ctrl.mu.RUnlock()
	if report != nil {
		t.Fatalf("restart must clear the prior report")
	}

	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandEnd})
	second := <-resultCh
	if second.Report == nil {
		t.Fatalf("second session should produce its own report")
	}
}

func TestControllerRejectsSecondConcurrentRun(t *testing.T) {
	ctrl := NewController(nil, newFakeMedia(), nil,
		func() question.Source {
			return question.NewLocalSource(question.Defaults(), 0, nil)
		},
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()
	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)

	second := ctrl.Run(ctx, testParams())
	if second.Err == nil {
		t.Fatalf("expected concurrent run to fail")
	}

	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandEnd})
	<-resultCh
}

func TestControllerMediaFailureIsNonFatal(t *testing.T) {
	media := newFakeMedia()
	media.captureErr = errors.New("permission denied")

	ctrl := NewController(nil, media, nil,
		func() question.Source {
			return question.NewLocalSource(question.Defaults(), 0, nil)
		},
		time.Second,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- ctrl.Run(ctx, testParams()) }()

	waitForPhase(t, ctrl, fsm.PhaseAwaitingQuestion)
	snapshot := ctrl.Snapshot()
	noticed := false
	for _, notice := range snapshot.Notices {
		if strings.Contains(notice, "Microphone unavailable") {
			noticed = true
		}
	}
	if !noticed {
		t.Fatalf("expected microphone notice, got %#v", snapshot.Notices)
	}

	ctrl.Handle(ctx, ipc.Request{Command: ipc.CommandEnd})
	result := <-resultCh
	if result.Report == nil {
		t.Fatalf("session without media must still produce a report")
	}
}

func TestControllerIntentGating(t *testing.T) {
	ctrl := NewController(nil, newFakeMedia(), nil,
		func() question.Source {
			return question.NewLocalSource(question.Defaults(), 0, nil)
		},
		time.Second,
	)

	resp := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandDone})
	if resp.OK {
		t.Fatalf("done must be rejected while idle")
	}
	resp = ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandEnd})
	if resp.OK {
		t.Fatalf("end must be rejected while idle")
	}
	resp = ctrl.Handle(context.Background(), ipc.Request{Command: "nonsense"})
	if resp.OK {
		t.Fatalf("unknown command must be rejected")
	}
}
