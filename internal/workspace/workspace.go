// Package workspace runs shell commands for missions, either directly
// on the host or inside a bubblewrap container, behind one exec
// contract. It also owns the container build lifecycle.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hasanabuzayed/openagent/internal/logger"
)

var (
	// ErrNotFound marks lookups of unknown workspace ids.
	ErrNotFound = errors.New("workspace not found")
	// ErrNotReady marks commands against a workspace whose status does
	// not accept them.
	ErrNotReady = errors.New("workspace not ready")
)

type Kind string

const (
	KindHost      Kind = "host"
	KindContainer Kind = "container"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// Workspace is an execution environment a mission runs commands in.
type Workspace struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         Kind              `json:"kind"`
	Root         string            `json:"root"`
	Status       Status            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Skills       []string          `json:"skills,omitempty"`
	InitScript   string            `json:"init_script,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// MaxTimeoutSecs bounds a single exec; requests above it are clamped.
const MaxTimeoutSecs = 600

const defaultTimeoutSecs = 120

// ExecRequest is one command execution. Cwd is relative to the
// workspace root; empty means the root itself.
type ExecRequest struct {
	Command     string            `json:"command"`
	Cwd         string            `json:"cwd,omitempty"`
	TimeoutSecs int               `json:"timeout_secs,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Stdin       string            `json:"stdin,omitempty"`
}

// ExecResult reports the outcome. A timeout is not an error: output
// captured so far is returned with TimedOut set and a best-effort exit
// code.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out"`
}

// Strategy is one way of executing commands in a workspace. Host and
// container share this contract; container-specific wrapping lives
// entirely inside the container strategy.
//
// Strategies perform no locking across concurrent Exec calls against
// the same workspace; callers must not issue racing execs against one
// workspace unless the command is safe under races.
type Strategy interface {
	Exec(ctx context.Context, ws *Workspace, req ExecRequest) (ExecResult, error)
}

// Registry is the persistence surface the manager needs.
type Registry interface {
	CreateWorkspace(ws *Workspace) error
	GetWorkspace(id string) (*Workspace, error)
	UpdateWorkspace(ws *Workspace) error
	DeleteWorkspace(id string) error
	ListWorkspaces() ([]*Workspace, error)
}

// Manager resolves workspaces to execution strategies and owns build
// and shell lifecycles.
type Manager struct {
	registry  Registry
	baseDir   string
	distroDir string

	host      Strategy
	container Strategy

	builds   *errgroup.Group
	building sync.Map // workspace id -> struct{}, guards double builds

	shellMu sync.Mutex
	shells  map[string]*ShellSession
}

const maxConcurrentBuilds = 2

func NewManager(registry Registry, baseDir, distroDir string) *Manager {
	builds := &errgroup.Group{}
	builds.SetLimit(maxConcurrentBuilds)
	return &Manager{
		registry:  registry,
		baseDir:   baseDir,
		distroDir: distroDir,
		host:      &hostStrategy{},
		container: &containerStrategy{},
		builds:    builds,
		shells:    make(map[string]*ShellSession),
	}
}

// Create registers a new workspace. Host workspaces are immediately
// ready; container workspaces start pending until built.
func (m *Manager) Create(name string, kind Kind, env map[string]string, skills []string, initScript string) (*Workspace, error) {
	if kind != KindHost && kind != KindContainer {
		return nil, fmt.Errorf("unknown workspace kind %q", kind)
	}

	id := uuid.New().String()[:8]
	root := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("could not create workspace root: %w", err)
	}

	ws := &Workspace{
		ID:         id,
		Name:       name,
		Kind:       kind,
		Root:       root,
		Status:     StatusPending,
		Env:        env,
		Skills:     skills,
		InitScript: initScript,
		CreatedAt:  time.Now(),
	}
	if kind == KindHost {
		ws.Status = StatusReady
	}

	if err := m.registry.CreateWorkspace(ws); err != nil {
		os.RemoveAll(root)
		return nil, err
	}

	logger.Log.Printf("[Workspace] Created %s workspace %s (%s)", kind, id, name)
	return ws, nil
}

func (m *Manager) Get(id string) (*Workspace, error) {
	return m.registry.GetWorkspace(id)
}

func (m *Manager) List() ([]*Workspace, error) {
	return m.registry.ListWorkspaces()
}

// Delete removes the workspace record and its filesystem root; for
// container workspaces the built image goes with the root.
func (m *Manager) Delete(id string) error {
	ws, err := m.registry.GetWorkspace(id)
	if err != nil {
		return err
	}

	m.CloseShell(id)

	if ws.Root != "" && strings.HasPrefix(ws.Root, m.baseDir) {
		os.RemoveAll(ws.Root)
	}
	return m.registry.DeleteWorkspace(id)
}

// Exec runs one command in the workspace using the strategy matching
// its kind. Only ready workspaces accept commands.
func (m *Manager) Exec(ctx context.Context, id string, req ExecRequest) (ExecResult, error) {
	ws, err := m.registry.GetWorkspace(id)
	if err != nil {
		return ExecResult{}, err
	}
	if ws.Status != StatusReady {
		return ExecResult{}, fmt.Errorf("%w: %s has status %s", ErrNotReady, id, ws.Status)
	}
	return m.strategyFor(ws).Exec(ctx, ws, req)
}

func (m *Manager) strategyFor(ws *Workspace) Strategy {
	if ws.Kind == KindContainer {
		return m.container
	}
	return m.host
}

// Wait blocks until in-flight builds finish. Used at shutdown.
func (m *Manager) Wait() error {
	return m.builds.Wait()
}

func resolveCwd(ws *Workspace, cwd string) (string, error) {
	if cwd == "" {
		return ws.Root, nil
	}
	full := filepath.Join(ws.Root, cwd)
	if !strings.HasPrefix(filepath.Clean(full), filepath.Clean(ws.Root)) {
		return "", fmt.Errorf("cwd %q escapes the workspace root", cwd)
	}
	return full, nil
}

func clampTimeout(secs int) time.Duration {
	if secs <= 0 {
		secs = defaultTimeoutSecs
	}
	if secs > MaxTimeoutSecs {
		secs = MaxTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

func mergedEnv(ws *Workspace, extra map[string]string) []string {
	env := os.Environ()
	for k, v := range ws.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
