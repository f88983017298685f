// Package session coordinates interview lifecycle state across the
// interviewer channel, local media capture, and the offline fallback.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/trowell/greenroom/internal/fsm"
	"github.com/trowell/greenroom/internal/ipc"
	"github.com/trowell/greenroom/internal/question"
)

type intent int

const (
	intentBeginAnswer intent = iota + 1
	intentStopAnswer
	intentEnd
	intentAbort
)

// fragmentDrain bounds how long StopAnswer waits for trailing finalized
// fragments after the recognizer turn closes.
const fragmentDrain = 200 * time.Millisecond

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	Phase          fsm.Phase
	Params         question.Params
	Report         *question.Report
	Transcript     string
	ElapsedSeconds int
	Provenance     string
	Notices        []string
	Aborted        bool
	Err            error
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Snapshot is the read-only coordinator view served to status queries.
type Snapshot struct {
	Phase          fsm.Phase
	Question       string
	ElapsedSeconds int
	Provenance     string
	Notices        []string
}

// Controller orchestrates interview phase transitions and side effects.
// Exactly one question source is active per session, fixed at start; a live
// source that fails its connect grace window falls back to the local bank
// before the first question, never after.
type Controller struct {
	logger   *slog.Logger
	media    Media
	newLive  SourceFactory
	newLocal SourceFactory
	grace    time.Duration

	mu           sync.RWMutex
	phase        fsm.Phase
	questionText string
	turn         []string
	answers      []string
	elapsed      int
	provenance   string
	report       *question.Report
	notices      []string

	intents chan intent
}

// NewController constructs a session controller with safe default fallbacks.
// A nil live factory forces offline mode; the local factory is required.
func NewController(
	logger *slog.Logger,
	media Media,
	newLive SourceFactory,
	newLocal SourceFactory,
	connectGrace time.Duration,
) *Controller {
	if media == nil {
		media = noopMedia{}
	}
	if connectGrace <= 0 {
		connectGrace = 3 * time.Second
	}

	return &Controller{
		logger:   logger,
		media:    media,
		newLive:  newLive,
		newLocal: newLocal,
		grace:    connectGrace,
		phase:    fsm.PhaseIdle,
		intents:  make(chan intent, 1),
	}
}

// Phase returns the current phase snapshot.
func (c *Controller) Phase() fsm.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Snapshot returns the coordinator state served to the presentation layer.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Phase:          c.phase,
		Question:       c.questionText,
		ElapsedSeconds: c.elapsed,
		Provenance:     c.provenance,
		Notices:        append([]string(nil), c.notices...),
	}
}

// transition applies one phase event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.phase, event)
	if err != nil {
		return err
	}
	c.phase = next
	return nil
}

// Run executes one interview session from start to report or abort. Calling
// Run while a session is active fails the phase transition immediately, so at
// most one session is in flight per controller.
func (c *Controller) Run(ctx context.Context, params question.Params) Result {
	result := Result{Params: params, StartedAt: time.Now()}

	if err := c.transition(fsm.EventStart); err != nil {
		result.Phase = c.Phase()
		result.Err = err
		result.FinishedAt = time.Now()
		return result
	}

	// A fresh start invalidates any prior session's question and report.
	c.mu.Lock()
	c.questionText = ""
	c.turn = nil
	c.answers = nil
	c.elapsed = 0
	c.report = nil
	c.notices = nil
	c.provenance = ""
	c.mu.Unlock()

	if err := c.media.StartCapture(ctx); err != nil {
		c.addNotice("Microphone unavailable; continuing without audio capture.")
		c.logWarn("media capture failed", "error", err.Error())
	} else if !c.media.TranscriptionAvailable() {
		c.addNotice("Speech-to-text is not available; answers will not be transcribed.")
	}
	defer c.media.StopCapture()

	src, err := c.openSource(ctx, params)
	if err != nil {
		_ = c.transition(fsm.EventReset)
		result.Phase = c.Phase()
		result.Err = err
		result.Notices = c.Snapshot().Notices
		result.FinishedAt = time.Now()
		return result
	}
	defer func() { _ = src.Close() }()

	c.mu.Lock()
	c.provenance = src.Provenance()
	c.mu.Unlock()
	result.Provenance = src.Provenance()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	events := src.Events()
	fragments := c.media.Fragments()

	for {
		select {
		case <-ctx.Done():
			c.media.StopTranscription()
			_ = c.transition(fsm.EventReset)
			return c.finish(result, ctx.Err(), true)

		case <-ticker.C:
			c.mu.Lock()
			c.elapsed++
			c.mu.Unlock()

		case fragment := <-fragments:
			c.mu.Lock()
			if c.phase == fsm.PhaseRecording && fragment != "" {
				c.turn = append(c.turn, fragment)
			}
			c.mu.Unlock()

		case event := <-events:
			if done := c.handleSourceEvent(event, fragments); done {
				return c.finish(result, nil, false)
			}

		case in := <-c.intents:
			switch in {
			case intentBeginAnswer:
				c.handleBeginAnswer(ctx)
			case intentStopAnswer:
				c.handleStopAnswer(ctx, src, fragments)
			case intentEnd:
				c.handleEnd(ctx, src, fragments)
			case intentAbort:
				c.media.StopTranscription()
				_ = c.transition(fsm.EventReset)
				return c.finish(result, nil, true)
			}
		}
	}
}

// openSource selects the session's single question source: live when the
// transport comes up within the grace window, otherwise the local bank.
func (c *Controller) openSource(ctx context.Context, params question.Params) (question.Source, error) {
	if c.newLive != nil {
		live := c.newLive()
		openCtx, cancel := context.WithTimeout(ctx, c.grace)
		err := live.Open(openCtx, params)
		cancel()
		if err == nil {
			return live, nil
		}
		_ = live.Close()
		c.addNotice("Interviewer unreachable; running an offline practice simulation.")
		c.logWarn("live interviewer unavailable, falling back", "error", err.Error())
	}

	local := c.newLocal()
	if err := local.Open(ctx, params); err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("open local question source: %w", err)
	}
	return local, nil
}

// handleSourceEvent applies one source event; true means the session reached
// its report. Events invalid for the current phase are logged and ignored,
// which also covers stale deliveries after a reset.
func (c *Controller) handleSourceEvent(event question.Event, fragments <-chan string) bool {
	switch event.Kind {
	case question.EventQuestion:
		if err := c.transition(fsm.EventQuestionReceived); err != nil {
			c.logWarn("question event ignored", "phase", string(c.Phase()), "error", err.Error())
			return false
		}
		c.mu.Lock()
		c.questionText = event.Question
		c.mu.Unlock()
		return false

	case question.EventReport:
		// The server may conclude on its own, answering the last submitted
		// answer (or even an in-flight turn) with the report directly.
		wasRecording := c.Phase() == fsm.PhaseRecording
		if err := c.transition(fsm.EventReportReceived); err != nil {
			c.logWarn("report event ignored", "phase", string(c.Phase()), "error", err.Error())
			return false
		}
		if wasRecording {
			c.media.StopTranscription()
			c.drainFragments(fragments)
			c.takeTurn()
		}
		c.mu.Lock()
		c.report = event.Report
		c.mu.Unlock()
		return true

	case question.EventError:
		// Mid-session failures never switch modes; the phase is preserved and
		// the user decides whether to retry or end.
		c.addNotice("Interviewer error: " + event.Reason)
		if c.Phase() == fsm.PhaseRecording {
			c.media.StopTranscription()
		}
		return false

	default:
		c.logWarn("unknown source event", "kind", string(event.Kind))
		return false
	}
}

// handleBeginAnswer starts one recording turn.
func (c *Controller) handleBeginAnswer(ctx context.Context) {
	if err := c.transition(fsm.EventBeginAnswer); err != nil {
		c.logWarn("begin answer rejected", "error", err.Error())
		return
	}

	c.mu.Lock()
	c.turn = nil
	c.mu.Unlock()

	if err := c.media.StartTranscription(ctx); err != nil {
		c.addNotice("Speech recognition failed to start; this answer will not be transcribed.")
		c.logWarn("start transcription failed", "error", err.Error())
	}
}

// handleStopAnswer closes the recording turn and submits the accumulated
// transcript; the session stays awaiting the next question.
func (c *Controller) handleStopAnswer(ctx context.Context, src question.Source, fragments <-chan string) {
	if err := c.transition(fsm.EventStopAnswer); err != nil {
		c.logWarn("stop answer rejected", "error", err.Error())
		return
	}

	c.media.StopTranscription()
	c.drainFragments(fragments)

	answer := c.takeTurn()
	if err := src.SubmitAnswer(ctx, answer); err != nil {
		// Gating should prevent this; surfaced only in logs, the session
		// simply keeps awaiting the next question.
		c.logWarn("submit answer failed", "error", err.Error())
	}
}

// handleEnd concludes the session: capture released, report requested.
func (c *Controller) handleEnd(ctx context.Context, src question.Source, fragments <-chan string) {
	wasRecording := c.Phase() == fsm.PhaseRecording

	if err := c.transition(fsm.EventEndSession); err != nil {
		c.logWarn("end session rejected", "error", err.Error())
		return
	}

	c.media.StopTranscription()
	if wasRecording {
		c.drainFragments(fragments)
		c.takeTurn()
	}
	c.media.StopCapture()

	if err := src.RequestReport(ctx); err != nil {
		c.addNotice("Could not request the interview report: " + err.Error())
		c.logWarn("request report failed", "error", err.Error())
	}
}

// drainFragments folds trailing finalized fragments into the current turn
// after the recognizer stream closed.
func (c *Controller) drainFragments(fragments <-chan string) {
	for {
		select {
		case fragment := <-fragments:
			if fragment == "" {
				continue
			}
			c.mu.Lock()
			c.turn = append(c.turn, fragment)
			c.mu.Unlock()
		case <-time.After(fragmentDrain):
			return
		}
	}
}

// takeTurn joins the turn's fragments in arrival order and archives them in
// the session transcript.
func (c *Controller) takeTurn() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	answer := strings.Join(c.turn, " ")
	c.turn = nil
	if answer != "" {
		c.answers = append(c.answers, answer)
	}
	return answer
}

// finish assembles the terminal Result for every exit path.
func (c *Controller) finish(result Result, err error, aborted bool) Result {
	snapshot := c.Snapshot()

	c.mu.RLock()
	transcript := strings.Join(c.answers, " ")
	report := c.report
	c.mu.RUnlock()

	result.Phase = snapshot.Phase
	result.Report = report
	result.Transcript = transcript
	result.ElapsedSeconds = snapshot.ElapsedSeconds
	result.Notices = snapshot.Notices
	result.Aborted = aborted
	result.Err = err
	result.FinishedAt = time.Now()
	return result
}

// Handle serves session commands for the active owner process.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		snapshot := c.Snapshot()
		return ipc.Response{
			OK:       true,
			Phase:    string(snapshot.Phase),
			Question: snapshot.Question,
			Elapsed:  snapshot.ElapsedSeconds,
			Message:  "status",
		}
	case ipc.CommandAnswer:
		return c.request(intentBeginAnswer, req.Command, fsm.PhaseAwaitingQuestion)
	case ipc.CommandDone:
		return c.request(intentStopAnswer, req.Command, fsm.PhaseRecording)
	case ipc.CommandEnd:
		return c.requestEnd()
	case ipc.CommandAbort:
		return c.requestAbort()
	default:
		return ipc.Response{OK: false, Phase: string(c.Phase()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// request enqueues an intent when the current phase permits it.
func (c *Controller) request(in intent, name string, required fsm.Phase) ipc.Response {
	phase := c.Phase()
	if phase != required {
		return ipc.Response{OK: false, Phase: string(phase), Error: fmt.Sprintf("cannot %s from phase %s", name, phase)}
	}

	select {
	case c.intents <- in:
		return ipc.Response{OK: true, Phase: string(phase), Message: name + " requested"}
	default:
		return ipc.Response{OK: true, Phase: string(phase), Message: name + " already requested"}
	}
}

// requestEnd enqueues session end from any active pre-report phase.
func (c *Controller) requestEnd() ipc.Response {
	phase := c.Phase()
	if phase == fsm.PhaseAwaitingReport {
		return ipc.Response{OK: false, Phase: string(phase), Error: "already awaiting report"}
	}
	if !fsm.Active(phase) {
		return ipc.Response{OK: false, Phase: string(phase), Error: fmt.Sprintf("cannot end from phase %s", phase)}
	}

	select {
	case c.intents <- intentEnd:
		return ipc.Response{OK: true, Phase: string(phase), Message: "end requested"}
	default:
		return ipc.Response{OK: true, Phase: string(phase), Message: "end already requested"}
	}
}

// requestAbort enqueues a session abort from any active phase.
func (c *Controller) requestAbort() ipc.Response {
	phase := c.Phase()
	if !fsm.Active(phase) {
		return ipc.Response{OK: false, Phase: string(phase), Error: fmt.Sprintf("cannot abort from phase %s", phase)}
	}

	select {
	case c.intents <- intentAbort:
		return ipc.Response{OK: true, Phase: string(phase), Message: "abort requested"}
	default:
		return ipc.Response{OK: true, Phase: string(phase), Message: "abort already requested"}
	}
}

// addNotice records a transient user-visible failure notice.
func (c *Controller) addNotice(notice string) {
	c.mu.Lock()
	c.notices = append(c.notices, notice)
	c.mu.Unlock()
	c.logWarn("session notice", "notice", notice)
}

func (c *Controller) logWarn(message string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(message, args...)
}
