// Package control exposes the operator-facing HTTP surface: the monitoring
// toggle, agent status and the open-dashboard command.
package control

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"sentinel-agent-go/src/configs"
	auth "sentinel-agent-go/src/core/Auth"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
	"sentinel-agent-go/src/feed"

	"github.com/gin-gonic/gin"
)

// Service 控制面HTTP服务
type Service struct {
	config    *configs.Config
	logger    *utils.Logger
	settings  *state.SettingsStore
	events    *state.EventLog
	feed      *feed.Server
	authToken *auth.AuthToken // 认证工具
}

// NewService 构造函数
func NewService(config *configs.Config, settings *state.SettingsStore, events *state.EventLog, feedServer *feed.Server, logger *utils.Logger) *Service {
	return &Service{
		config:    config,
		logger:    logger,
		settings:  settings,
		events:    events,
		feed:      feedServer,
		authToken: auth.NewAuthToken(config.Server.Auth.Token),
	}
}

// Start 注册所有控制面路由
func (s *Service) Start(ctx context.Context, engine *gin.Engine, apiGroup *gin.RouterGroup) error {
	if s.config.Server.Auth.Enabled {
		apiGroup.Use(s.authGuard())
	}

	apiGroup.GET("/status", s.handleStatus)
	apiGroup.GET("/events", s.handleEvents)
	apiGroup.POST("/toggle", s.handleToggle)
	apiGroup.POST("/dashboard", s.handleDashboard)
	apiGroup.POST("/page-token", s.handlePageToken)

	s.logger.Info("控制面HTTP服务路由注册完成")
	return nil
}

// authGuard 控制面鉴权中间件：接受配置的共享密钥，或由它签发的JWT
func (s *Service) authGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := authHeader[7:] // 移除"Bearer "前缀

		if token == s.config.Server.Auth.Token {
			c.Next()
			return
		}
		isValid, _, err := s.authToken.VerifyToken(token)
		if err != nil || !isValid {
			s.logger.Warn("控制面token验证失败", map[string]interface{}{
				"path": c.Request.URL.Path,
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// handleStatus 状态查询
func (s *Service) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"monitoring": s.settings.LoadMonitoring(),
		"sessions":   s.feed.SessionCount(),
	})
}

// handleEvents 查询最近的命中记录
func (s *Service) handleEvents(c *gin.Context) {
	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	events, err := s.events.Recent(limit)
	if err != nil {
		s.logger.Error("查询命中记录失败", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// handleToggle 切换监控开关并广播给所有依赖方
func (s *Service) handleToggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.settings.SetMonitoring(*req.Enabled); err != nil {
		s.logger.Error("保存监控开关失败", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist toggle"})
		return
	}
	s.logger.Info("监控开关已切换", map[string]interface{}{"enabled": *req.Enabled})
	c.JSON(http.StatusOK, gin.H{"monitoring": *req.Enabled})
}

type pageTokenRequest struct {
	PageID string `json:"page_id" binding:"required"`
}

// handlePageToken 为页面会话签发接入feed的短期token。页面端注入脚本
// 持有共享密钥，连接feed前先在这里换取JWT
func (s *Service) handlePageToken(c *gin.Context) {
	var req pageTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, err := s.authToken.GenerateToken(req.PageID)
	if err != nil {
		s.logger.Error("签发页面token失败", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": 3600})
}

// handleDashboard 要求所有页面在新窗口打开仪表盘
func (s *Service) handleDashboard(c *gin.Context) {
	url := s.config.DashboardURL
	if url == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "dashboard url not configured"})
		return
	}
	s.feed.Broadcast(feed.Command{Type: feed.CmdOpenDashboard, URL: url})
	c.JSON(http.StatusOK, gin.H{"opened": true, "url": url})
}
