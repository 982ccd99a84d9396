// Package server exposes the HTTP control surface: message posting,
// the live event stream, mission inspection and workspace management.
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hasanabuzayed/openagent/internal/runner"
	"github.com/hasanabuzayed/openagent/internal/session"
	"github.com/hasanabuzayed/openagent/internal/store"
	"github.com/hasanabuzayed/openagent/internal/workspace"
)

// Deps carries everything the handlers need.
type Deps struct {
	Store       *store.Store
	Workspaces  *workspace.Manager
	Runner      *runner.Runner
	Session     *session.Session
	Broadcaster *session.Broadcaster
}

func New(deps Deps) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, deps)
	return g
}

func attachRoutes(r *gin.Engine, deps Deps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	ctrlH := NewControl(deps.Session, deps.Broadcaster)
	missionH := NewMissions(deps.Store, deps.Runner, deps.Session, deps.Broadcaster)
	wsH := NewWorkspaces(deps.Workspaces)

	api := r.Group("/api")
	{
		api.POST("/message", ctrlH.PostMessage)
		api.POST("/tool_result", ctrlH.PostToolResult)
		api.POST("/cancel", ctrlH.Cancel)
		api.GET("/status", ctrlH.Status)
		api.GET("/stream", ctrlH.Stream)

		api.GET("/missions", missionH.List)
		api.GET("/missions/:id", missionH.Get)
		api.DELETE("/missions/:id", missionH.Archive)
		api.POST("/missions/:id/status", missionH.SetStatus)
		api.POST("/missions/:id/resume", missionH.Resume)
		api.GET("/missions/:id/events", missionH.Events)

		api.POST("/workspaces", wsH.Create)
		api.GET("/workspaces", wsH.List)
		api.GET("/workspaces/:id", wsH.Get)
		api.DELETE("/workspaces/:id", wsH.Delete)
		api.POST("/workspaces/:id/build", wsH.Build)
		api.POST("/workspaces/:id/exec", wsH.Exec)
		api.GET("/workspaces/:id/shell", wsH.Shell)
	}
}
