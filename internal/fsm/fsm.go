package fsm

import "fmt"

type Phase string

type Event string

const (
	PhaseIdle             Phase = "idle"
	PhaseConnecting       Phase = "connecting"
	PhaseAwaitingQuestion Phase = "awaiting_question"
	PhaseRecording        Phase = "recording"
	PhaseAwaitingReport   Phase = "awaiting_report"
	PhaseReported         Phase = "reported"
)

const (
	EventStart            Event = "start"
	EventQuestionReceived Event = "question_received"
	EventBeginAnswer      Event = "begin_answer"
	EventStopAnswer       Event = "stop_answer"
	EventEndSession       Event = "end_session"
	EventReportReceived   Event = "report_received"
	EventReset            Event = "reset"
)

// Active reports whether a phase belongs to an in-flight session.
func Active(phase Phase) bool {
	switch phase {
	case PhaseIdle, PhaseReported:
		return false
	default:
		return true
	}
}

func Transition(current Phase, event Event) (Phase, error) {
	if event == EventReset {
		return PhaseIdle, nil
	}

	switch current {
	case PhaseIdle:
		switch event {
		case EventStart:
			return PhaseConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PhaseConnecting:
		switch event {
		case EventQuestionReceived:
			return PhaseAwaitingQuestion, nil
		case EventEndSession:
			return PhaseAwaitingReport, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PhaseAwaitingQuestion:
		switch event {
		case EventQuestionReceived:
			// Next question landing while the prior answer is pending.
			return PhaseAwaitingQuestion, nil
		case EventBeginAnswer:
			return PhaseRecording, nil
		case EventEndSession:
			return PhaseAwaitingReport, nil
		case EventReportReceived:
			// The server may conclude with a report instead of a next question.
			return PhaseReported, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PhaseRecording:
		switch event {
		case EventStopAnswer:
			return PhaseAwaitingQuestion, nil
		case EventEndSession:
			return PhaseAwaitingReport, nil
		case EventReportReceived:
			return PhaseReported, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PhaseAwaitingReport:
		switch event {
		case EventReportReceived:
			return PhaseReported, nil
		default:
			return current, invalidTransition(current, event)
		}
	case PhaseReported:
		switch event {
		case EventStart:
			return PhaseConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown phase %q", current)
	}
}

func invalidTransition(phase Phase, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", phase, event)
}
