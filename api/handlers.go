package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/api/responses"
	"github.com/Aidin1998/finsync/internal/syncbus"
	ferrors "github.com/Aidin1998/finsync/pkg/errors"
)

type healthResponse struct {
	Status  string        `json:"status"`
	Paused  bool          `json:"paused"`
	Focused *bool         `json:"focused,omitempty"`
	Uptime  time.Duration `json:"uptime"`
	Time    time.Time     `json:"time"`
}

func (s *Server) healthCheck(c *gin.Context) {
	resp := healthResponse{
		Status: "ok",
		Paused: s.deps.Scheduler.Stats().Paused,
		Uptime: time.Since(s.started),
		Time:   time.Now().UTC(),
	}
	if s.deps.Focus != nil {
		focused := s.deps.Focus.Focused()
		resp.Focused = &focused
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) schedulerStats(c *gin.Context) {
	responses.Success(c, s.deps.Scheduler.Stats())
}

// LimitsRequest updates one or both scheduler limits. Values are clamped to
// the scheduler bounds.
type LimitsRequest struct {
	MaxConcurrent     *int `json:"max_concurrent"`
	RequestsPerSecond *int `json:"requests_per_second"`
}

type LimitsResponse struct {
	MaxConcurrent     int `json:"max_concurrent"`
	RequestsPerSecond int `json:"requests_per_second"`
}

func (s *Server) updateLimits(c *gin.Context) {
	var req LimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.BadRequest(c, "invalid limits body: "+err.Error())
		return
	}
	if req.MaxConcurrent == nil && req.RequestsPerSecond == nil {
		responses.BadRequest(c, "nothing to update",
			ferrors.ValidationError{Field: "max_concurrent", Message: "set max_concurrent or requests_per_second"})
		return
	}
	if req.MaxConcurrent != nil {
		s.deps.Scheduler.SetMaxConcurrent(*req.MaxConcurrent)
	}
	if req.RequestsPerSecond != nil {
		s.deps.Scheduler.SetRequestsPerSecond(*req.RequestsPerSecond)
	}
	mc, rps := s.deps.Scheduler.Limits()
	s.audit(c, "scheduler.limits", zap.Int("max_concurrent", mc), zap.Int("requests_per_second", rps))
	responses.Success(c, LimitsResponse{MaxConcurrent: mc, RequestsPerSecond: rps}, "limits updated")
}

func (s *Server) pause(c *gin.Context) {
	s.deps.Scheduler.Pause()
	s.audit(c, "scheduler.pause")
	responses.Success(c, s.deps.Scheduler.Stats(), "scheduler paused")
}

func (s *Server) resume(c *gin.Context) {
	s.deps.Scheduler.Resume()
	s.audit(c, "scheduler.resume")
	responses.Success(c, s.deps.Scheduler.Stats(), "scheduler resumed")
}

func (s *Server) syncStats(c *gin.Context) {
	responses.Success(c, s.deps.Sync.QueueStats())
}

func (s *Server) publishEvent(c *gin.Context) {
	var evt syncbus.SyncEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		responses.BadRequest(c, "invalid event body: "+err.Error())
		return
	}
	if err := evt.Validate(); err != nil {
		responses.BadRequest(c, err.Error())
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	s.deps.Sync.Publish(evt)
	s.audit(c, "sync.publish", zap.String("event_id", evt.ID), zap.String("type", string(evt.Type)))
	responses.Accepted(c, gin.H{"id": evt.ID}, "event queued")
}

func (s *Server) fullSync(c *gin.Context) {
	err := s.deps.Sync.ForceFullSync(c.Request.Context())
	switch {
	case errors.Is(err, syncbus.ErrClosed):
		responses.ServiceUnavailable(c, err.Error())
		return
	case err != nil:
		s.logger.Warn("full sync finished with errors", zap.Error(err))
		responses.InternalServerError(c, err.Error())
		return
	}
	s.audit(c, "sync.full")
	responses.Success(c, s.deps.Sync.QueueStats(), "full sync complete")
}

func (s *Server) degradeStatus(c *gin.Context) {
	responses.Success(c, s.deps.Degrade.Status())
}

func (s *Server) cacheGroups(c *gin.Context) {
	responses.Success(c, s.deps.Cache.Status())
}

func (s *Server) cacheGroup(c *gin.Context) {
	name := c.Param("group")
	for _, g := range s.deps.Cache.Status() {
		if g.Group == name {
			responses.Success(c, g)
			return
		}
	}
	responses.NotFound(c, "unknown resource group "+name)
}

func (s *Server) cacheStats(c *gin.Context) {
	responses.Success(c, s.deps.Levels.Stats())
}

func (s *Server) audit(c *gin.Context, event string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("event", event),
		zap.String("subject", c.GetString("subject")),
		zap.String("ip", c.ClientIP()),
	}, fields...)
	s.logger.Info("admin action", fields...)
}
