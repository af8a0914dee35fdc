// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"buildenergy/monitoring"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, handler *Handler, metrics *monitoring.MetricsCollector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = handler.metrics
	}

	return &Server{
		server: &http.Server{
			Addr:        fmt.Sprintf(":%d", config.Port),
			Handler:     NewRouter(config, handler, metrics, logger),
			ReadTimeout: config.Timeout,
			// 写超时由 TimeoutMiddleware 控制，websocket 连接不能受其限制
			IdleTimeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter 注册路由并套上中间件链
func NewRouter(config ServerConfig, handler *Handler, metrics *monitoring.MetricsCollector, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	chain := Chain(
		RecoveryMiddleware(logger),                     // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(logger),                       // 2. 日志中间件
		MetricsMiddleware(metrics),                     // 3. 请求指标
		SecurityHeadersMiddleware,                      // 4. 安全头中间件
		CORSMiddleware(config.AllowedOrigins),          // 5. CORS中间件
		RequestSizeMiddleware(config.MaxBodyBytes),     // 6. 请求大小限制
		TimeoutMiddleware(config.Timeout, isWebSocket), // 7. 超时中间件
	)
	return chain(mux)
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("stream", "ws://localhost"+s.server.Addr+"/api/ws/predict"),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 优雅关闭，等待进行中的请求直到 ctx 结束；已升级的 websocket 连接不在等待范围内
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
