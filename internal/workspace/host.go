package workspace

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// hostStrategy spawns the command directly on the host, rooted at the
// workspace path.
type hostStrategy struct{}

func (h *hostStrategy) Exec(ctx context.Context, ws *Workspace, req ExecRequest) (ExecResult, error) {
	cwd, err := resolveCwd(ws, req.Cwd)
	if err != nil {
		return ExecResult{}, err
	}

	cmd := exec.Command("sh", "-c", req.Command)
	cmd.Dir = cwd
	cmd.Env = mergedEnv(ws, req.Env)
	return runWithTimeout(ctx, cmd, req)
}

// runWithTimeout starts cmd in its own process group, waits up to the
// request timeout, and on expiry kills the whole group. Output captured
// so far is still returned.
func runWithTimeout(ctx context.Context, cmd *exec.Cmd, req ExecRequest) (ExecResult, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return ExecResult{}, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := clampTimeout(req.TimeoutSecs)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var timedOut bool
	select {
	case <-done:
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return result(cmd, &stdout, &stderr, false), ctx.Err()
	case <-timer.C:
		timedOut = true
		killGroup(cmd)
		<-done
	}

	return result(cmd, &stdout, &stderr, timedOut), nil
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the process group so children die too.
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func result(cmd *exec.Cmd, stdout, stderr *bytes.Buffer, timedOut bool) ExecResult {
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
	}
}
