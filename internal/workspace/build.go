package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hasanabuzayed/openagent/internal/logger"
)

// BuildRequest parametrizes a container build. Distro names a base
// distribution tree under the manager's distro directory.
type BuildRequest struct {
	Distro  string `json:"distro,omitempty"`
	Rebuild bool   `json:"rebuild,omitempty"`
}

const defaultDistro = "debian-stable"

// Build starts an asynchronous container build and returns immediately
// with the workspace in status building. Building a ready workspace
// without Rebuild is a no-op. Status is polled via Get; nothing blocks.
func (m *Manager) Build(id string, req BuildRequest) (*Workspace, error) {
	ws, err := m.registry.GetWorkspace(id)
	if err != nil {
		return nil, err
	}
	if ws.Kind != KindContainer {
		return nil, fmt.Errorf("workspace %s is a %s workspace, only containers build", id, ws.Kind)
	}
	if ws.Status == StatusBuilding {
		return ws, nil
	}
	if ws.Status == StatusReady && !req.Rebuild {
		return ws, nil
	}
	if _, racing := m.building.LoadOrStore(id, struct{}{}); racing {
		return ws, nil
	}

	ws.Status = StatusBuilding
	ws.ErrorMessage = ""
	if err := m.registry.UpdateWorkspace(ws); err != nil {
		m.building.Delete(id)
		return nil, err
	}

	distro := req.Distro
	if distro == "" {
		distro = defaultDistro
	}

	m.builds.Go(func() error {
		defer m.building.Delete(id)
		m.runBuild(ws, distro, req.Rebuild)
		return nil
	})

	return ws, nil
}

// runBuild executes the build on the caller's behalf. Failures mark the
// workspace status error with a readable message; they never propagate
// and never disturb other workspaces or in-flight missions.
func (m *Manager) runBuild(ws *Workspace, distro string, rebuild bool) {
	finish := func(err error) {
		if err != nil {
			ws.Status = StatusError
			ws.ErrorMessage = err.Error()
			logger.Log.Printf("[Workspace] Build of %s FAILED: %v", ws.ID, err)
		} else {
			ws.Status = StatusReady
			ws.ErrorMessage = ""
			logger.Log.Printf("[Workspace] Build of %s complete (distro %s)", ws.ID, distro)
		}
		if uerr := m.registry.UpdateWorkspace(ws); uerr != nil {
			logger.Log.Printf("[Workspace] Could not persist build result for %s: %v", ws.ID, uerr)
		}
	}

	base := filepath.Join(m.distroDir, distro)
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		finish(fmt.Errorf("distribution image %q not found under %s", distro, m.distroDir))
		return
	}

	image := imageDir(ws)
	if rebuild {
		if err := os.RemoveAll(image); err != nil {
			finish(fmt.Errorf("could not tear down old image: %w", err))
			return
		}
	}
	if err := os.MkdirAll(image, 0755); err != nil {
		finish(fmt.Errorf("could not create image dir: %w", err))
		return
	}

	// Hardlinks leave the base distro tree untouched.
	cp := exec.Command("cp", "-al", base+"/.", image)
	if out, err := cp.CombinedOutput(); err != nil {
		finish(fmt.Errorf("copying distro %q: %v: %s", distro, err, out))
		return
	}

	if ws.InitScript != "" {
		res, err := m.container.Exec(context.Background(), ws, ExecRequest{
			Command:     ws.InitScript,
			TimeoutSecs: MaxTimeoutSecs,
		})
		if err != nil {
			finish(fmt.Errorf("init script: %w", err))
			return
		}
		if res.TimedOut {
			finish(fmt.Errorf("init script timed out after %ds", MaxTimeoutSecs))
			return
		}
		if res.ExitCode != 0 {
			finish(fmt.Errorf("init script exited %d: %s", res.ExitCode, res.Stderr))
			return
		}
	}

	finish(nil)
}
