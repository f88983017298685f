// Package transport maintains the WebSocket channel to the remote interviewer.
package transport

// Outbound message types.
const (
	TypeInitSession  = "init_session"
	TypeSubmitAnswer = "submit_answer"
	TypeEndSession   = "end_session"
)

// Inbound message types.
const (
	TypeQuestion = "question"
	TypeReport   = "report"
	TypeError    = "error"
)

// BaseMessage contains fields common to all wire messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// InitSessionMessage starts one interview on the remote service.
type InitSessionMessage struct {
	BaseMessage
	Topic           string `json:"topic"`
	Level           string `json:"level"`
	DurationMinutes int    `json:"duration_minutes"`
	UserID          string `json:"user_id,omitempty"`
}

// SubmitAnswerMessage carries one accumulated answer transcript.
type SubmitAnswerMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// EndSessionMessage asks the remote service to conclude and grade the session.
type EndSessionMessage struct {
	BaseMessage
}

// InboundMessage is the union of all server-to-client payloads; Type selects
// which fields are meaningful.
type InboundMessage struct {
	BaseMessage
	// question
	Text string `json:"text,omitempty"`
	// report
	Score      int      `json:"score,omitempty"`
	Feedback   string   `json:"feedback,omitempty"`
	Strengths  []string `json:"strengths,omitempty"`
	Weaknesses []string `json:"weaknesses,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	// error
	Reason string `json:"reason,omitempty"`
}

// ReportPayload is the decoded report carried by an inbound report message.
type ReportPayload struct {
	Score      int
	Feedback   string
	Strengths  []string
	Weaknesses []string
	Transcript string
}
