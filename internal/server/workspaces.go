package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hasanabuzayed/openagent/internal/logger"
	"github.com/hasanabuzayed/openagent/internal/workspace"
)

type Workspaces struct {
	manager *workspace.Manager
}

func NewWorkspaces(m *workspace.Manager) Workspaces {
	return Workspaces{manager: m}
}

var shellUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h Workspaces) Create(c *gin.Context) {
	var req struct {
		Name       string            `json:"name" binding:"required"`
		Kind       string            `json:"kind"`
		Env        map[string]string `json:"env"`
		Skills     []string          `json:"skills"`
		InitScript string            `json:"init_script"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	kind := workspace.Kind(req.Kind)
	if req.Kind == "" {
		kind = workspace.KindHost
	}
	if kind != workspace.KindHost && kind != workspace.KindContainer {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid kind " + req.Kind})
		return
	}

	ws, err := h.manager.Create(req.Name, kind, req.Env, req.Skills, req.InitScript)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ws)
}

func (h Workspaces) List(c *gin.Context) {
	list, err := h.manager.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": list})
}

func (h Workspaces) Get(c *gin.Context) {
	ws, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h Workspaces) Delete(c *gin.Context) {
	if err := h.manager.Delete(c.Param("id")); err != nil {
		c.JSON(statusForErr(err), gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Build kicks off (or re-runs) the container image build. It returns
// immediately; progress shows up as workspace status transitions.
func (h Workspaces) Build(c *gin.Context) {
	var req workspace.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	ws, err := h.manager.Build(c.Param("id"), req)
	if err != nil {
		c.JSON(statusForErr(err), gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, ws)
}

func (h Workspaces) Exec(c *gin.Context) {
	var req workspace.ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	if req.Command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"err": "command is required"})
		return
	}

	result, err := h.manager.Exec(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(statusForErr(err), gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Shell upgrades to a websocket and bridges it to the workspace's
// interactive shell. Binary frames carry raw bytes both ways.
func (h Workspaces) Shell(c *gin.Context) {
	sh, err := h.manager.Shell(c.Param("id"))
	if err != nil {
		c.JSON(statusForErr(err), gin.H{"err": err.Error()})
		return
	}

	conn, err := shellUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Printf("[Server] Shell upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The shell outlives the connection; the pump goroutine unblocks
	// from sh.Read on the shell's next output and exits when its write
	// to the closed connection fails.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, rerr := sh.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			break
		}
		if _, werr := sh.Write(data); werr != nil {
			break
		}
	}
}

// statusForErr maps manager errors onto HTTP codes: missing things
// are 404, state conflicts are 409.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrNotReady):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
