// Package feed hosts the WebSocket endpoint instrumented pages connect to.
// Each connection becomes one monitored page session.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"sentinel-agent-go/src/capture"
	"sentinel-agent-go/src/configs"
	auth "sentinel-agent-go/src/core/Auth"
	"sentinel-agent-go/src/core/state"
	"sentinel-agent-go/src/core/utils"
)

// Server 页面接入服务器
type Server struct {
	config    *configs.Config
	logger    *utils.Logger
	settings  *state.SettingsStore
	events    *state.EventLog
	client    capture.Submitter
	raster    *capture.Rasterizer
	upgrader  Upgrader
	authToken *auth.AuthToken
	server    *http.Server

	sessions sync.Map
}

// NewServer 创建页面接入服务器
func NewServer(
	config *configs.Config,
	settings *state.SettingsStore,
	events *state.EventLog,
	client capture.Submitter,
	logger *utils.Logger,
) *Server {
	return &Server{
		config:    config,
		logger:    logger,
		settings:  settings,
		events:    events,
		client:    client,
		raster:    capture.NewRasterizer(&config.Capture, logger),
		upgrader:  NewDefaultUpgrader(),
		authToken: auth.NewAuthToken(config.Server.Auth.Token),
	}
}

// Start 启动服务器，阻塞直到ctx取消或监听失败
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.IP, s.config.Server.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info(fmt.Sprintf("正在启动页面接入服务器于 ws://%s...", addr))

	// 启动服务器关闭监控
	go func() {
		<-ctx.Done()
		s.logger.Info("收到关闭信号，准备关闭服务器...")
		if err := s.Stop(); err != nil {
			s.logger.Error(fmt.Sprintf("服务器关闭时出错: %v", err))
		}
	}()

	if err := s.server.ListenAndServe(); err != nil {
		if err == http.ErrServerClosed {
			s.logger.Info("服务器已正常关闭")
			return nil
		}
		s.logger.Error(fmt.Sprintf("服务器启动失败: %v", err))
		return fmt.Errorf("服务器启动失败: %v", err)
	}

	return nil
}

// Stop 停止服务器并关闭全部会话
func (s *Server) Stop() error {
	if s.server != nil {
		s.sessions.Range(func(key, value interface{}) bool {
			if sess, ok := value.(*Session); ok {
				sess.Close()
			}
			return true
		})
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("服务器关闭失败: %v", err)
		}
	}
	return nil
}

// Broadcast 向所有活跃会话下发指令
func (s *Server) Broadcast(cmd Command) {
	s.sessions.Range(func(key, value interface{}) bool {
		if sess, ok := value.(*Session); ok {
			if err := sess.Send(cmd); err != nil {
				s.logger.Debug("指令下发失败", map[string]interface{}{
					"session": sess.ID(),
					"error":   err.Error(),
				})
			}
		}
		return true
	})
}

// SessionCount 活跃会话数量
func (s *Server) SessionCount() int {
	count := 0
	s.sessions.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// handleWebSocket 处理页面端连接：升级、鉴权、等待hello、启动会话
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.Server.Auth.Enabled {
		token := r.URL.Query().Get("token")
		ok, _, err := s.authToken.VerifyToken(token)
		if err != nil || !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Error(fmt.Sprintf("WebSocket升级失败: %v", err))
		return
	}

	// 第一条消息必须是hello
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var hello Message
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != MsgHello {
		s.logger.Warn("首条消息不是hello，断开连接")
		conn.Close()
		return
	}

	sess, err := NewSession(conn, &hello, s.config, s.settings, s.events, s.client, s.raster, s.logger)
	if err != nil {
		s.logger.Error(fmt.Sprintf("创建会话失败: %v", err))
		conn.Close()
		return
	}

	s.sessions.Store(sess.ID(), sess)
	defer s.sessions.Delete(sess.ID())

	sess.Run(r.Context())
}
