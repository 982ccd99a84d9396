package workspace

import (
	"context"
	"fmt"
	"os/exec"
)

// Command prepares (but does not start) a command running inside the
// workspace: rooted at the workspace path on the host, or wrapped in
// the container image for container workspaces. Harness bridges use
// this to spawn backend processes in the right environment.
func (m *Manager) Command(ctx context.Context, workspaceID string, argv ...string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	// Missions without a workspace run the backend on the bare host.
	if workspaceID == "" {
		return exec.Command(argv[0], argv[1:]...), nil
	}

	ws, err := m.registry.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	if ws.Status != StatusReady {
		return nil, fmt.Errorf("%w: %s has status %s", ErrNotReady, workspaceID, ws.Status)
	}

	if ws.Kind == KindContainer {
		bwrap, err := exec.LookPath("bwrap")
		if err != nil {
			return nil, fmt.Errorf("bwrap not found in PATH: %w", err)
		}
		args := newBwrapArgs(imageDir(ws), ws.Root, containerWorkDir)
		args.command(argv...)
		return exec.Command(bwrap, args.list...), nil
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = ws.Root
	cmd.Env = mergedEnv(ws, nil)
	return cmd, nil
}
