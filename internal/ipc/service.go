/**
 * IPC Service - JSON line protocol for the desktop front end
 *
 * Reads one command per line from the input stream and writes one JSON
 * object per line to the output stream. Runs execute in the background and
 * stream progress/completed messages on the same output.
 */

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

const maxLineSize = 16 * 1024 * 1024

// Service serves the line protocol over a reader/writer pair.
type Service struct {
	orchestrator *batch.Orchestrator
	defaults     batch.Defaults
	logger       *logging.Logger

	wmu sync.Mutex
	enc *json.Encoder

	mu      sync.Mutex
	status  batch.Status
	cancel  *batch.CancelToken
	running bool
	wg      sync.WaitGroup
}

// NewService creates a service writing to out.
func NewService(orchestrator *batch.Orchestrator, defaults batch.Defaults, out io.Writer) *Service {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return &Service{
		orchestrator: orchestrator,
		defaults:     defaults,
		logger:       logging.NewLogger("ipc"),
		enc:          enc,
		status:       batch.NewStatus(),
	}
}

// Serve processes commands from in until shutdown, EOF or ctx cancellation.
// Any run still in flight is cancelled and awaited before Serve returns.
func (s *Service) Serve(ctx context.Context, in io.Reader) error {
	// Cancelled after s.stop so the reader goroutine can exit on return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.send(StartupMessage{Type: TypeStartup, Success: true, Message: "Backend service ready"})

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	defer s.stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				s.logger.Info("EOF reached, shutting down")
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			reply, start, shutdown := s.handle(ctx, []byte(line))
			s.send(reply)
			if start != nil {
				start()
			}
			if shutdown {
				return nil
			}
		}
	}
}

// handle dispatches one command. A non-nil start is invoked after the reply
// has been written so that the acknowledgement precedes any progress.
func (s *Service) handle(ctx context.Context, line []byte) (reply Reply, start func(), shutdown bool) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		s.logger.Error("Invalid JSON received", "error", err)
		return Reply{Error: fmt.Sprintf("Invalid JSON: %v", err)}, nil, false
	}
	if env.Command == "" {
		return Reply{Error: "Missing 'command' field"}, nil, false
	}

	s.logger.Info("Processing command", "command", env.Command)
	switch env.Command {
	case CommandProcessImages:
		reply, start = s.handleProcessImages(ctx, line)
		return reply, start, false
	case CommandGetStatus:
		st := s.snapshot()
		return Reply{Success: true, Status: &st}, nil, false
	case CommandCancelProcessing:
		return s.handleCancel(), nil, false
	case CommandShutdown:
		s.logger.Info("Shutdown requested")
		return Reply{Success: true, Message: "Shutting down"}, nil, true
	}
	return Reply{Error: fmt.Sprintf("Unknown command: %s", env.Command)}, nil, false
}

func (s *Service) handleProcessImages(ctx context.Context, line []byte) (Reply, func()) {
	var spec batch.JobSpec
	if err := json.Unmarshal(line, &spec); err != nil {
		return Reply{Error: fmt.Sprintf("Invalid process_images command: %v", err)}, nil
	}
	cfg, err := spec.OutputConfig(s.defaults)
	if err != nil {
		return Reply{Error: err.Error()}, nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Reply{Error: "Processing already in progress"}, nil
	}
	if err := s.orchestrator.Validate(spec.ImagePaths, cfg); err != nil {
		s.mu.Unlock()
		return Reply{Error: err.Error()}, nil
	}
	cancel := batch.NewCancelToken()
	s.running = true
	s.cancel = cancel
	s.status = batch.NewStatus()
	s.status.IsProcessing = true
	s.status.TotalImages = len(spec.ImagePaths)
	s.status.CurrentOperation = "Initializing processing..."
	s.mu.Unlock()

	mode := spec.Mode(s.defaults, s.onProgress, cancel)
	s.wg.Add(1)
	start := func() {
		go func() {
			defer s.wg.Done()
			s.execute(ctx, spec.ImagePaths, cfg, mode)
		}()
	}

	return Reply{Success: true, Message: "Processing started", TotalImages: len(spec.ImagePaths)}, start
}

func (s *Service) execute(ctx context.Context, paths []string, cfg *processor.OutputConfig, mode batch.Mode) {
	s.logger.Info("Starting processing", "images", len(paths), "word", cfg.TargetWord, "parallel", mode.IsParallel())

	report, err := s.orchestrator.Run(ctx, paths, cfg, mode)

	s.mu.Lock()
	s.running = false
	if err != nil {
		s.status.IsProcessing = false
		s.status.ErrorMessage = err.Error()
		st := s.status.Clone()
		s.mu.Unlock()

		s.logger.Error("Processing failed", "error", err)
		s.send(ErrorMessage{Type: TypeError, Status: st, Error: err.Error()})
		return
	}
	s.status = report.Status.Clone()
	s.mu.Unlock()

	s.logger.Info("Processing completed", "successful", report.SuccessfulCount, "failed", report.FailedCount, "cancelled", report.Cancelled)
	s.send(CompletedMessage{Type: TypeCompleted, Status: report.Status, Results: resultsOf(report)})
}

func (s *Service) onProgress(st batch.Status) {
	s.mu.Lock()
	st.CancelRequested = st.CancelRequested || s.cancel.Requested()
	s.status = st.Clone()
	s.mu.Unlock()

	s.send(ProgressMessage{Type: TypeProgress, Status: st})
}

func (s *Service) handleCancel() Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return Reply{Success: true, Message: "No processing in progress"}
	}
	s.cancel.Cancel()
	s.status.CancelRequested = true
	s.status.CurrentOperation = "Cancelling..."
	s.logger.Info("Cancellation requested")
	return Reply{Success: true, Message: "Processing cancelled"}
}

func (s *Service) snapshot() batch.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Clone()
}

// stop cancels any in-flight run and waits for its final message.
func (s *Service) stop() {
	s.mu.Lock()
	if s.running {
		s.cancel.Cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) send(v interface{}) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.logger.Error("Error sending response", "error", err)
	}
}
