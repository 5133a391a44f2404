// ABOUTME: Exec-based Runtime that hosts an agent process per session
// ABOUTME: Turn inputs are written as JSON lines on stdin; events are read as JSON lines on stdout

package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"
)

// maxEventSize bounds a single stdout event line (1 MiB).
const maxEventSize = 1 << 20

// ExecRuntime launches a configured command for each session. The process
// runs in the session's workspace directory, receives turn inputs as JSON
// lines on stdin, and emits events as JSON lines on stdout. Closing stdin
// ends the input sequence; process exit ends the output stream.
type ExecRuntime struct {
	command      string
	args         []string
	startTimeout time.Duration
	logger       *slog.Logger
}

// NewExecRuntime creates an ExecRuntime for the given command and arguments.
// startTimeout bounds how long a freshly started process may stay silent
// before its first stdout event; zero disables the bound.
func NewExecRuntime(command string, args []string, startTimeout time.Duration, logger *slog.Logger) *ExecRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRuntime{
		command:      command,
		args:         args,
		startTimeout: startTimeout,
		logger:       logger.With("component", "exec-runtime"),
	}
}

// Run starts the agent process and returns its output stream.
// The stream closes when the process exits; a non-zero exit surfaces as a
// terminal Output.Err unless ctx was already canceled.
func (r *ExecRuntime) Run(ctx context.Context, cfg RunConfig, inputs InputSource) (<-chan Output, error) {
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Dir = cfg.WorkspaceDir
	cmd.Env = append(os.Environ(),
		"PERCH_SESSION_ID="+cfg.SessionID,
		"PERCH_MODEL="+cfg.Model,
		"PERCH_EFFORT="+cfg.Effort,
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting runtime %q: %w", r.command, err)
	}

	r.logger.Debug("runtime process started",
		"session_id", cfg.SessionID,
		"command", r.command,
		"pid", cmd.Process.Pid,
	)

	// An agent that starts but never speaks is killed once the start timeout
	// elapses; readEvents reports it as a terminal error on the stream.
	var startTimer *time.Timer
	var startTimedOut atomic.Bool
	if r.startTimeout > 0 {
		startTimer = time.AfterFunc(r.startTimeout, func() {
			startTimedOut.Store(true)
			_ = cmd.Process.Kill()
		})
	}

	go r.feedInputs(ctx, cfg.SessionID, stdin, inputs)

	out := make(chan Output, 16)
	go r.readEvents(ctx, cfg.SessionID, cmd, stdout, out, startTimer, &startTimedOut)

	return out, nil
}

// feedInputs pulls turn inputs from the bridge and writes them to stdin.
// Closing stdin tells the process the input sequence is over.
func (r *ExecRuntime) feedInputs(ctx context.Context, sessionID string, stdin io.WriteCloser, inputs InputSource) {
	defer stdin.Close()

	enc := json.NewEncoder(stdin)
	for {
		input, ok := inputs.Next(ctx)
		if !ok {
			return
		}
		if err := enc.Encode(input); err != nil {
			// Process went away; its exit is reported on the output stream.
			r.logger.Debug("runtime stdin write failed",
				"session_id", sessionID,
				"error", err,
			)
			return
		}
	}
}

// readEvents scans stdout for JSON event lines and forwards them to out,
// then reaps the process and reports its exit status.
func (r *ExecRuntime) readEvents(ctx context.Context, sessionID string, cmd *exec.Cmd, stdout io.Reader, out chan<- Output, startTimer *time.Timer, startTimedOut *atomic.Bool) {
	defer close(out)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	sawEvent := false
scan:
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !sawEvent {
			sawEvent = true
			if startTimer != nil {
				startTimer.Stop()
			}
		}
		event := make(json.RawMessage, len(line))
		copy(event, line)

		select {
		case out <- Output{Event: event}:
		case <-ctx.Done():
			break scan
		}
	}

	waitErr := cmd.Wait()
	if startTimer != nil {
		startTimer.Stop()
	}
	if ctx.Err() != nil {
		// Canceled: the kill-induced exit status is not an error.
		r.logger.Debug("runtime process canceled", "session_id", sessionID)
		return
	}
	if startTimedOut.Load() && !sawEvent {
		out <- Output{Err: fmt.Errorf("runtime produced no output within %s", r.startTimeout)}
		return
	}
	if scanErr := scanner.Err(); scanErr != nil {
		out <- Output{Err: fmt.Errorf("reading runtime output: %w", scanErr)}
		return
	}
	if waitErr != nil {
		out <- Output{Err: fmt.Errorf("runtime exited: %w", waitErr)}
	}
}
