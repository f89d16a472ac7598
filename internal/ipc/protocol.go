package ipc

import (
	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
)

// Command names accepted on the input stream.
const (
	CommandProcessImages    = "process_images"
	CommandGetStatus        = "get_status"
	CommandCancelProcessing = "cancel_processing"
	CommandShutdown         = "shutdown"
)

// Message types emitted asynchronously.
const (
	TypeStartup   = "startup"
	TypeProgress  = "progress"
	TypeCompleted = "completed"
	TypeError     = "error"
)

type envelope struct {
	Command string `json:"command"`
}

// Reply answers a command.
type Reply struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Status      *batch.Status `json:"status,omitempty"`
	TotalImages int           `json:"total_images,omitempty"`
}

// StartupMessage is the first line written by the service.
type StartupMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ProgressMessage is emitted once per completed image.
type ProgressMessage struct {
	Type   string       `json:"type"`
	Status batch.Status `json:"status"`
}

// Results summarises a finished run.
type Results struct {
	SuccessfulCount  int             `json:"successful_count"`
	FailedCount      int             `json:"failed_count"`
	SuccessfulImages []string        `json:"successful_images"`
	FailedImages     []string        `json:"failed_images"`
	Failures         []batch.Failure `json:"failures"`
	Cancelled        bool            `json:"cancelled"`
}

// CompletedMessage is emitted when a run ends, cancelled or not.
type CompletedMessage struct {
	Type    string       `json:"type"`
	Status  batch.Status `json:"status"`
	Results Results      `json:"results"`
}

// ErrorMessage is emitted when a run aborts.
type ErrorMessage struct {
	Type   string       `json:"type"`
	Status batch.Status `json:"status"`
	Error  string       `json:"error"`
}

func resultsOf(r *batch.Report) Results {
	return Results{
		SuccessfulCount:  r.SuccessfulCount,
		FailedCount:      r.FailedCount,
		SuccessfulImages: r.Processed,
		FailedImages:     r.FailedImages(),
		Failures:         r.Failed,
		Cancelled:        r.Cancelled,
	}
}
