package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	TransferStarted Type = iota + 1
	TransferComplete
	FileStarted
	FileProgress
	FileCompleted
	FileFailed
	FileSkipped
	DirCreated
	ResumeFound
	VerifyStarted
	VerifyOK
	VerifyFailed
)

var typeNames = [...]string{
	TransferStarted:  "TransferStarted",
	TransferComplete: "TransferComplete",
	FileStarted:      "FileStarted",
	FileProgress:     "FileProgress",
	FileCompleted:    "FileCompleted",
	FileFailed:       "FileFailed",
	FileSkipped:      "FileSkipped",
	DirCreated:       "DirCreated",
	ResumeFound:      "ResumeFound",
	VerifyStarted:    "VerifyStarted",
	VerifyOK:         "VerifyOK",
	VerifyFailed:     "VerifyFailed",
}

func (t Type) String() string {
	if int(t) > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // destination path
	Bytes     int64  // bytes added since the previous event for this file
	Done      int64  // cumulative bytes for this file
	Size      int64  // total file size
	Error     error
}

// Emit sends e on ch without blocking. Slow consumers drop events rather
// than stalling the data path. A nil channel is a no-op.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
