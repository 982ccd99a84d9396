package workspace

import (
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/hasanabuzayed/openagent/internal/logger"
)

// ShellSession is a bidirectional byte stream to an interactive shell
// inside a workspace. It is keyed by workspace id and orthogonal to
// Exec: shells are not serialized with exec calls.
type ShellSession struct {
	WorkspaceID string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// Shell returns the live shell for the workspace, starting one if
// needed. At most one shell per workspace exists at a time.
func (m *Manager) Shell(id string) (*ShellSession, error) {
	m.shellMu.Lock()
	defer m.shellMu.Unlock()

	if sess, ok := m.shells[id]; ok {
		return sess, nil
	}

	ws, err := m.registry.GetWorkspace(id)
	if err != nil {
		return nil, err
	}
	if ws.Status != StatusReady {
		return nil, fmt.Errorf("%w: %s has status %s", ErrNotReady, id, ws.Status)
	}

	var cmd *exec.Cmd
	if ws.Kind == KindContainer {
		bwrap, err := exec.LookPath("bwrap")
		if err != nil {
			return nil, fmt.Errorf("bwrap not found in PATH: %w", err)
		}
		args := newBwrapArgs(imageDir(ws), ws.Root, containerWorkDir)
		args.command("sh", "-i")
		cmd = exec.Command(bwrap, args.list...)
	} else {
		cmd = exec.Command("sh", "-i")
		cmd.Dir = ws.Root
		cmd.Env = mergedEnv(ws, nil)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start shell: %w", err)
	}

	sess := &ShellSession{WorkspaceID: id, cmd: cmd, stdin: stdin, stdout: stdout}
	m.shells[id] = sess

	// Reap the shell and drop it from the table once it exits.
	go func() {
		cmd.Wait()
		m.shellMu.Lock()
		if m.shells[id] == sess {
			delete(m.shells, id)
		}
		m.shellMu.Unlock()
		logger.Log.Printf("[Workspace] Shell for %s exited", id)
	}()

	return sess, nil
}

// CloseShell terminates the workspace's shell if one is running.
func (m *Manager) CloseShell(id string) {
	m.shellMu.Lock()
	sess := m.shells[id]
	delete(m.shells, id)
	m.shellMu.Unlock()

	if sess != nil {
		sess.Close()
	}
}

func (s *ShellSession) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *ShellSession) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *ShellSession) Close() error {
	s.stdin.Close()
	if s.cmd.Process != nil {
		syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}
