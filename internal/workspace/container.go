package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// containerStrategy wraps the command in a bubblewrap invocation rooted
// at the workspace's built image. The exec contract is identical to the
// host strategy; isolation is an implementation detail.
type containerStrategy struct{}

const containerWorkDir = "/workspace"

func (c *containerStrategy) Exec(ctx context.Context, ws *Workspace, req ExecRequest) (ExecResult, error) {
	bwrap, err := exec.LookPath("bwrap")
	if err != nil {
		return ExecResult{}, fmt.Errorf("bwrap not found in PATH: %w", err)
	}

	cwd := containerWorkDir
	if req.Cwd != "" {
		if _, err := resolveCwd(ws, req.Cwd); err != nil {
			return ExecResult{}, err
		}
		cwd = filepath.Join(containerWorkDir, req.Cwd)
	}

	args := newBwrapArgs(imageDir(ws), ws.Root, cwd)
	for k, v := range ws.Env {
		args.setEnv(k, v)
	}
	for k, v := range req.Env {
		args.setEnv(k, v)
	}
	args.command("sh", "-c", req.Command)

	cmd := exec.Command(bwrap, args.list...)
	return runWithTimeout(ctx, cmd, req)
}

// bwrapArgs accumulates a bubblewrap command line: fresh namespaces,
// the image as read-only root, the workspace bound writable.
type bwrapArgs struct {
	list []string
}

func newBwrapArgs(image, workspaceRoot, cwd string) *bwrapArgs {
	b := &bwrapArgs{}
	b.add(
		"--unshare-pid",
		"--unshare-uts",
		"--unshare-ipc",
		"--die-with-parent",
		"--ro-bind", image, "/",
		"--bind", workspaceRoot, containerWorkDir,
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--chdir", cwd,
		"--clearenv",
		"--setenv", "HOME", containerWorkDir,
		"--setenv", "PATH", "/usr/local/bin:/usr/bin:/bin",
	)
	return b
}

func (b *bwrapArgs) add(args ...string) {
	b.list = append(b.list, args...)
}

func (b *bwrapArgs) setEnv(key, value string) {
	b.add("--setenv", key, value)
}

func (b *bwrapArgs) command(argv ...string) {
	b.add("--")
	b.add(argv...)
}

func imageDir(ws *Workspace) string {
	return filepath.Join(ws.Root, ".image")
}
