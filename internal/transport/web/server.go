package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"moechat-server-go/internal/core/session"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// Server 对外HTTP/WebSocket服务，控制面转发给会话
type Server struct {
	cfg     *config.Config
	logger  *utils.Logger
	sess    *session.Session
	engine  *gin.Engine
	httpSrv *http.Server
}

func NewServer(cfg *config.Config, sess *session.Session, logger *utils.Logger) *Server {
	if strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger))
	engine.SetTrustedProxies([]string{"0.0.0.0"})
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		sess:   sess,
		engine: engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/send", s.handleSend)
		api.POST("/poke", s.handlePoke)
		api.POST("/interrupt", s.handleInterrupt)
		api.POST("/voice/start", s.handleVoiceStart)
		api.POST("/voice/stop", s.handleVoiceStop)
	}
	s.engine.GET("/ws", s.handleWebSocket)
}

// Start 阻塞运行，ctx取消时优雅关停
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.IP, s.cfg.Web.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.InfoTag("Web", "监听地址 http://%s", addr)
	err := s.httpSrv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler 暴露底层处理器，测试时直接挂到httptest
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleStatus(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, s.sess.GetStatus(), "")
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "缺少text字段", nil)
		return
	}
	if !s.sess.SendText(req.Text) {
		RespondError(c, http.StatusConflict, "当前状态不接受文本输入", s.sess.GetStatus())
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "已进入处理")
}

func (s *Server) handlePoke(c *gin.Context) {
	if !s.sess.Poke() {
		RespondError(c, http.StatusConflict, "当前状态不接受戳一戳", s.sess.GetStatus())
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "")
}

func (s *Server) handleInterrupt(c *gin.Context) {
	if !s.sess.Interrupt() {
		RespondError(c, http.StatusConflict, "没有可以打断的播报", s.sess.GetStatus())
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "已打断")
}

func (s *Server) handleVoiceStart(c *gin.Context) {
	if !s.sess.StartVoice() {
		RespondError(c, http.StatusConflict, "语音模式启动失败", s.sess.GetStatus())
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "收音中")
}

func (s *Server) handleVoiceStop(c *gin.Context) {
	s.sess.StopVoice()
	RespondSuccess(c, http.StatusOK, nil, "已关麦")
}

func loggingMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("[HTTP] %s %s -> %d (%s)",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}
