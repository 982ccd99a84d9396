package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/logger"
	"github.com/hasanabuzayed/openagent/internal/mission"
	"github.com/hasanabuzayed/openagent/internal/runner"
	"github.com/hasanabuzayed/openagent/internal/session"
	"github.com/hasanabuzayed/openagent/internal/store"
)

type Missions struct {
	store       *store.Store
	runner      *runner.Runner
	session     *session.Session
	broadcaster *session.Broadcaster
}

func NewMissions(st *store.Store, r *runner.Runner, s *session.Session, b *session.Broadcaster) Missions {
	return Missions{store: st, runner: r, session: s, broadcaster: b}
}

func (h Missions) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	missions, err := h.store.ListMissions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"missions": missions})
}

func (h Missions) Get(c *gin.Context) {
	m, err := h.store.GetMission(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// Archive soft-deletes: the mission drops out of listings but its
// event log stays replayable.
func (h Missions) Archive(c *gin.Context) {
	if err := h.store.ArchiveMission(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Missions) SetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	status := mission.Status(req.Status)
	if !mission.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"err": "invalid status " + req.Status})
		return
	}

	id := c.Param("id")
	if err := h.store.SetMissionStatus(id, status); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}

	ev := event.New(event.TypeMissionStatus, string(status)).
		WithMeta("mission_id", id).
		WithMeta("status", string(status))
	ev.MissionID = id
	if _, err := h.store.AppendEvent(ev); err != nil {
		logger.Log.Printf("[Server] Could not append status event for mission %s: %v", id, err)
	} else {
		h.broadcaster.Publish(ev)
	}
	c.Status(http.StatusNoContent)
}

// Resume replays a mission's event log into conversation history,
// binds the mission to the slot, and re-dispatches the trailing
// unanswered user message when there is one.
func (h Missions) Resume(c *gin.Context) {
	res, err := h.runner.Resume(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}
	if err := h.session.Bind(res.Mission.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
		return
	}

	dispatched := ""
	if res.PendingMessage != "" {
		id, _, err := h.session.PostMessage(res.PendingMessage, "", "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
			return
		}
		dispatched = id
	}
	c.JSON(http.StatusOK, gin.H{"mission": res.Mission, "dispatched": dispatched})
}

func (h Missions) Events(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetMission(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
		return
	}

	filter := store.EventFilter{}
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, event.Type(strings.TrimSpace(t)))
		}
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	events, err := h.store.ListEvents(id, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
