package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auditwatch/internal/ingest"
)

// logEvent 记录审计事件并执行通知规则
func (s *Server) logEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.deps.Ingester.Ingest(c.Request.Context(), ConvertEventRequest(req))
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Failed to record event", zap.Int("kind_id", req.KindID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record event"})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// searchEvents 优先使用 Elasticsearch，未启用时查询数据库
func (s *Server) searchEvents(c *gin.Context) {
	var req EventSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.deps.ES != nil {
		result, err := s.deps.ES.SearchEvents(c.Request.Context(), req.ToSearchQuery())
		if err != nil {
			s.logger.Error("Event search failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"total":  result.Total,
			"hits":   result.Hits,
			"source": "elasticsearch",
		})
		return
	}

	hits, total, err := s.deps.Events.ListEvents(c.Request.Context(), req.ToEventQuery())
	if err != nil {
		s.logger.Error("Event search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"hits":   hits,
		"source": "database",
	})
}

func (s *Server) eventStats(c *gin.Context) {
	var req struct {
		StartTime *int64 `json:"start_time,omitempty"` // Unix timestamp
		EndTime   *int64 `json:"end_time,omitempty"`   // Unix timestamp
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.deps.ES == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Elasticsearch is disabled"})
		return
	}

	// 默认最近 24 小时
	end := time.Now()
	if t := unixPtr(req.EndTime); t != nil {
		end = *t
	}
	start := end.Add(-24 * time.Hour)
	if t := unixPtr(req.StartTime); t != nil {
		start = *t
	}

	stats, err := s.deps.ES.GetEventStats(c.Request.Context(), start, end)
	if err != nil {
		s.logger.Error("Event stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// deliveryLogs 查询通知发送记录
func (s *Server) deliveryLogs(c *gin.Context) {
	var req DeliveryLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.deps.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Delivery journal is disabled"})
		return
	}

	result, err := s.deps.Journal.Query(req.ToJournalQuery())
	if err != nil {
		s.logger.Error("Delivery journal query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query delivery logs"})
		return
	}
	c.JSON(http.StatusOK, result)
}
