package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/events"
	"github.com/davidmiura/tlt-sub000/pkg/lifecycle"
)

// SubmitCloudEvent handles POST /cloudevents: decode, admit, and answer 202
// with the assigned task id. The caller polls the task endpoints for the
// outcome.
func (s *Server) SubmitCloudEvent(c *gin.Context) {
	var env events.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		abortWithError(c, errs.Parse("request body is not a CloudEvent", err))
		return
	}

	task, err := s.manager.Submit(&env)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"cloudevent_id": env.ID,
		"task_id":       task.ID,
		"priority":      task.Priority,
		"status":        "accepted",
	})
}

// AgentState handles GET /monitor/agent/state: the snapshot poll the chat
// adapter drives. Draining the outbox hands the returned actions to the
// caller.
func (s *Server) AgentState(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Snapshot())
}

// ListTasks handles GET /monitor/tasks: in-flight tasks in dispatch order,
// optionally filtered by ?status= and capped by ?limit=.
func (s *Server) ListTasks(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abortWithError(c, errs.Validation("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}
	status := lifecycle.EntryStatus(c.Query("status"))

	c.JSON(http.StatusOK, gin.H{
		"depth": s.manager.Depth(),
		"tasks": s.manager.List(status, limit),
	})
}

// TaskStatus handles GET /monitor/tasks/:id: the full lifecycle record.
func (s *Server) TaskStatus(c *gin.Context) {
	lc := s.manager.Status(c.Param("id"))
	if lc == nil {
		abortWithError(c, errs.NotFound("unknown task "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, lc)
}

// TaskResult handles GET /events/task/:id/result: the final outcome, or 202
// while the task is still moving through the pipeline.
func (s *Server) TaskResult(c *gin.Context) {
	taskID := c.Param("id")
	lc := s.manager.Status(taskID)
	if lc == nil {
		abortWithError(c, errs.NotFound("unknown task "+taskID))
		return
	}
	if !lc.Final() {
		c.JSON(http.StatusAccepted, gin.H{
			"task_id": taskID,
			"status":  "in-progress",
		})
		return
	}

	last := lc.Entries[len(lc.Entries)-1]
	c.JSON(http.StatusOK, gin.H{
		"task_id":      taskID,
		"final_status": lc.FinalStatus,
		"completed_at": lc.CompletedAt,
		"node":         last.Node,
		"details":      last.Details,
	})
}

// MonitorStatus handles GET /monitor/status: coarse service health.
func (s *Server) MonitorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "running",
		"queue_depth":   s.manager.Depth(),
		"tracked_tasks": s.manager.Tracked(),
		"uptime":        s.manager.Uptime().Round(time.Second).String(),
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
