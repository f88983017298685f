package question

import "context"

// Candidate experience levels accepted by the remote interviewer.
const (
	LevelJunior = "junior"
	LevelMid    = "mid"
	LevelSenior = "senior"
)

// Report provenance values. A session's questions and report always share one
// provenance; live and local output are never blended.
const (
	ProvenanceLive  = "live"
	ProvenanceLocal = "local"
)

// Params identifies one interview attempt to a question source.
type Params struct {
	SessionID       string
	Topic           string
	Level           string
	DurationMinutes int
	UserID          string
}

// Report is the terminal artifact of a session, immutable once produced.
type Report struct {
	Score      int
	Feedback   string
	Strengths  []string
	Weaknesses []string
	Transcript string
	Provenance string
}

type EventKind string

const (
	EventQuestion EventKind = "question"
	EventReport   EventKind = "report"
	EventError    EventKind = "error"
)

// Event is one inbound occurrence from a question source, delivered in the
// order the source produced it.
type Event struct {
	Kind     EventKind
	Question string
	Report   *Report
	Reason   string
}

// Source supplies interview questions and the final report for one session.
// Exactly one implementation is selected at session start and held for the
// session's lifetime.
type Source interface {
	// Open begins the session; the opening question arrives on Events.
	Open(ctx context.Context, params Params) error
	// SubmitAnswer hands the accumulated answer transcript to the source.
	// The next question (or the report) arrives on Events.
	SubmitAnswer(ctx context.Context, text string) error
	// RequestReport asks the source to conclude the session and produce the
	// report on Events.
	RequestReport(ctx context.Context) error
	Events() <-chan Event
	Provenance() string
	// Close releases the source. Idempotent; events produced after Close are
	// dropped.
	Close() error
}
