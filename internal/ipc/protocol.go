package ipc

// Commands accepted by an active interview session.
const (
	CommandStatus = "status"
	CommandAnswer = "answer"
	CommandDone   = "done"
	CommandEnd    = "end"
	CommandAbort  = "abort"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK       bool   `json:"ok"`
	Phase    string `json:"phase,omitempty"`
	Question string `json:"question,omitempty"`
	Elapsed  int    `json:"elapsed,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}
