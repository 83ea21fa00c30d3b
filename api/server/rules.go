package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auditwatch/internal/notification"
)

func (s *Server) invalidate() {
	if s.deps.Cache != nil {
		s.deps.Cache.Invalidate()
	}
}

func (s *Server) addRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def := ConvertRuleRequest(req)
	if err := def.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Rules.SaveRule(c.Request.Context(), &def); err != nil {
		s.logger.Error("Failed to create notification rule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create notification rule"})
		return
	}
	s.invalidate()

	c.JSON(http.StatusCreated, gin.H{
		"id":      def.ID,
		"message": "Notification rule created successfully",
	})
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.deps.Rules.ListRules(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list notification rules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notification rules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) getRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def, err := s.deps.Rules.GetRule(c.Request.Context(), req.ID)
	if err != nil {
		s.ruleError(c, err)
		return
	}

	c.JSON(http.StatusOK, def)
}

func (s *Server) updateRule(c *gin.Context) {
	var req struct {
		IDRequest
		RuleRequest
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def := ConvertRuleRequest(req.RuleRequest)
	def.ID = req.ID
	if err := def.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Rules.SaveRule(c.Request.Context(), &def); err != nil {
		s.ruleError(c, err)
		return
	}
	s.invalidate()

	c.JSON(http.StatusOK, gin.H{"message": "Notification rule updated successfully"})
}

func (s *Server) removeRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Rules.DeleteRule(c.Request.Context(), req.ID); err != nil {
		s.ruleError(c, err)
		return
	}
	s.invalidate()

	c.JSON(http.StatusOK, gin.H{"message": "Notification rule deleted successfully"})
}

// EvaluateRequest runs a stored rule (rule_id) or an unsaved one (rule) against an event.
type EvaluateRequest struct {
	RuleID *uint        `json:"rule_id,omitempty"`
	Rule   *RuleRequest `json:"rule,omitempty"`
	Event  EventRequest `json:"event"`
}

// evaluateRule 试运行规则，不发送通知
func (s *Server) evaluateRule(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var def notification.RuleDefinition
	switch {
	case req.RuleID != nil:
		stored, err := s.deps.Rules.GetRule(c.Request.Context(), *req.RuleID)
		if err != nil {
			s.ruleError(c, err)
			return
		}
		def = stored
	case req.Rule != nil:
		def = ConvertRuleRequest(*req.Rule)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule_id or rule is required"})
		return
	}

	result, err := s.deps.Evaluator.DryRun(c.Request.Context(), def, ConvertEventRequest(req.Event))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ruleError(c *gin.Context, err error) {
	if errors.Is(err, notification.ErrRuleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification rule not found"})
		return
	}
	s.logger.Error("Notification rule store error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Notification rule store error"})
}
