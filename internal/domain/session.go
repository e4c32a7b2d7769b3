package domain

type SessionID string

type ProcessState int

const (
	ProcessIdle ProcessState = iota
	ProcessStarting
	ProcessRunning
	ProcessStopping
)

func (s ProcessState) String() string {
	switch s {
	case ProcessIdle:
		return "idle"
	case ProcessStarting:
		return "starting"
	case ProcessRunning:
		return "running"
	case ProcessStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type Signal string

const (
	SignalTerminate Signal = "SIGTERM"
	SignalKill      Signal = "SIGKILL"
)

type EventKind string

const (
	EventOutput          EventKind = "output"
	EventError           EventKind = "error"
	EventCommandComplete EventKind = "command-complete"
)

// Event is one outbound message for a session. PID is set on completions
// only and names the process that exited.
type Event struct {
	Kind     EventKind
	Data     string
	ExitCode int
	PID      int
}

func OutputEvent(data string) Event {
	return Event{Kind: EventOutput, Data: data}
}

func ErrorEvent(message string) Event {
	return Event{Kind: EventError, Data: message}
}

func CompleteEvent(exitCode, pid int) Event {
	return Event{Kind: EventCommandComplete, ExitCode: exitCode, PID: pid}
}
