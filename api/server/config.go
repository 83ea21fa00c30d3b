package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auditwatch/internal/catalog"
	"auditwatch/internal/config"
	"auditwatch/internal/events"
)

// GetConfigResponse 获取配置响应，敏感字段已屏蔽
type GetConfigResponse struct {
	Config config.Config `json:"config"`
}

// getConfig 获取系统配置
func (s *Server) getConfig(c *gin.Context) {
	if s.deps.Config == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Configuration not available"})
		return
	}
	c.JSON(http.StatusOK, GetConfigResponse{Config: s.deps.Config.Masked()})
}

// CatalogResponse 规则编辑器使用的下拉选项
type CatalogResponse struct {
	Catalog catalog.Lists `json:"catalog"`
	Events  []events.Kind `json:"events"`
}

func (s *Server) getCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, CatalogResponse{
		Catalog: catalog.New(s.deps.Catalog()).Lists(),
		Events:  s.deps.Registry.List(),
	})
}
