package harness

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/logger"
)

// killGrace is how long a cancelled subprocess gets to exit on its own
// before the whole process group is killed.
const killGrace = 3 * time.Second

// lineHandler consumes one parsed ndjson record. Returning done=true
// ends the turn cleanly.
type lineHandler func(raw json.RawMessage) (done bool, err error)

// subprocessTurn spawns cmd, writes the input lines to its stdin, and
// feeds each newline-delimited JSON record on stdout to handle. Records
// are buffered across read chunks: a record boundary never coincides
// with a fixed byte boundary, so reads go through bufio and partially
// read lines are reassembled before parsing.
//
// An unparseable record produces a recoverable error event and parsing
// continues. A closed transport (EOF before a done record, nonzero
// exit) fails the turn. Cancellation is cooperative between records
// with a hard process-group kill after killGrace.
type subprocessTurn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	emit   EmitFunc
}

func startSubprocessTurn(cmd *exec.Cmd, emit EmitFunc) (*subprocessTurn, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start harness process: %w", err)
	}

	return &subprocessTurn{cmd: cmd, stdin: stdin, stdout: stdout, emit: emit}, nil
}

// send writes one JSON record followed by a newline to the child's
// stdin. Used both for the opening prompt and for tool-result resumes.
func (t *subprocessTurn) send(record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("writing to harness stdin: %w", err)
	}
	return nil
}

func (t *subprocessTurn) run(ctx context.Context, handle lineHandler) error {
	// Hard-kill fallback: if cancellation lands while the read loop is
	// blocked on a wedged child, the group is killed after the grace
	// period and the read returns.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			timer := time.NewTimer(killGrace)
			defer timer.Stop()
			select {
			case <-watchDone:
			case <-timer.C:
				t.kill()
			}
		case <-watchDone:
		}
	}()

	reader := bufio.NewReader(t.stdout)
	finished := false

	for {
		if err := ctx.Err(); err != nil {
			t.kill()
			t.cmd.Wait()
			return err
		}

		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			var raw json.RawMessage
			if err := json.Unmarshal(line, &raw); err != nil {
				// One bad record does not abort the turn.
				logger.Log.Printf("[Harness] Skipping malformed record: %v", err)
				t.emit(event.New(event.TypeError, fmt.Sprintf("malformed harness record: %v", err)))
			} else {
				done, err := handle(raw)
				if err != nil {
					t.kill()
					t.cmd.Wait()
					return err
				}
				if done {
					finished = true
				}
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				t.kill()
				t.cmd.Wait()
				return fmt.Errorf("reading harness output: %w", readErr)
			}
			break
		}
		if finished {
			break
		}
	}

	t.stdin.Close()
	// A child that lingers after its stream is done gets the same
	// grace period as a cancelled one before the group is killed.
	linger := time.AfterFunc(killGrace, t.kill)
	waitErr := t.cmd.Wait()
	linger.Stop()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !finished {
		if waitErr != nil {
			return fmt.Errorf("harness process failed: %w", waitErr)
		}
		return fmt.Errorf("harness closed its stream before completing the turn")
	}
	return nil
}

func (t *subprocessTurn) kill() {
	if t.cmd.Process != nil {
		syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
	}
}
