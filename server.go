package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"FacePoseServer/challenge"
	"FacePoseServer/engine"
	iface "FacePoseServer/interface"
	"FacePoseServer/logger"
	"FacePoseServer/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn 串行化同一连接上的写操作
type wsConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (w *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) close(reason string) {
	w.closeOnce.Do(func() {
		// WriteControl 可以和 WriteMessage 并发调用
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second))
		_ = w.conn.Close()
	})
}

type httpServer struct {
	reg *engine.Registry

	connMu sync.Mutex
	conns  map[string]*wsConn
}

func newHTTPServer(reg *engine.Registry) *httpServer {
	s := &httpServer{reg: reg, conns: map[string]*wsConn{}}
	// 会话被释放（超时、接口调用、gRPC）时关闭对应的 websocket
	reg.OnRelease(func(id string) {
		s.connMu.Lock()
		c, ok := s.conns[id]
		delete(s.conns, id)
		s.connMu.Unlock()
		if ok {
			c.close("session released")
		}
	})
	return s
}

func (s *httpServer) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/sessions", s.createSession)
	r.GET("/api/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.reg.List()})
	})
	r.GET("/api/sessions/:id", s.withEngine(func(c *gin.Context, e *engine.Engine) {
		c.JSON(http.StatusOK, gin.H{"data": engine.Info{
			ID:          e.ID,
			Description: e.CheckConfig().Description,
			State:       e.State(),
			Status:      e.Status(),
		}})
	}))
	r.POST("/api/sessions/:id/reset", s.withEngine(func(c *gin.Context, e *engine.Engine) {
		e.Reset()
		c.JSON(http.StatusOK, gin.H{"data": e.Status()})
	}))
	r.POST("/api/sessions/:id/release", func(c *gin.Context) {
		if !s.reg.Release(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})
	r.POST("/api/sessions/:id/frames", s.withEngine(s.submitFrame))
	r.GET("/api/results/:id", s.result)
	r.GET("/ws/:id", s.withEngine(s.serveWS))
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *httpServer) withEngine(h func(*gin.Context, *engine.Engine)) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.reg.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h(c, e)
	}
}

func (s *httpServer) createSession(c *gin.Context) {
	var overrides iface.EngineConfig
	if err := c.ShouldBindJSON(&overrides); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, _, err := s.reg.Create(overrides)
	if errors.Is(err, engine.ErrCapacity) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "All sessions are busy"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionID": id,
		"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, id),
		"timeoutMs": s.reg.IdleTimeout().Milliseconds(),
	})
}

// statusFor 把 Engine 的失败消息映射成 HTTP 状态码
func statusFor(ret iface.RetData) int {
	if ret.Success {
		return http.StatusOK
	}
	switch ret.Data {
	case engine.MsgBusy, engine.MsgRateLimited:
		return http.StatusTooManyRequests
	case engine.MsgNotRegistered:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

func (s *httpServer) submitFrame(c *gin.Context, e *engine.Engine) {
	var frame challenge.Frame
	if err := c.ShouldBindJSON(&frame); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ret := e.Process(frame)
	if !ret.Success {
		c.JSON(statusFor(ret), gin.H{"error": ret.Data})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ret.Data})
}

func (s *httpServer) result(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	rec, err := s.reg.Store().Get(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
		return
	}
	if err != nil {
		logger.Log().Error("reading result failed", zap.String("ID", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Result store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (s *httpServer) serveWS(c *gin.Context, e *engine.Engine) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	ws := &wsConn{conn: conn}
	conn.SetReadLimit(20 * 1024 * 1024)

	s.connMu.Lock()
	old, replaced := s.conns[e.ID]
	s.conns[e.ID] = ws
	s.connMu.Unlock()
	if replaced {
		old.close("replaced by a new connection")
	}

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			// 客户端断开或读取错误，释放会话
			s.connMu.Lock()
			current := s.conns[e.ID] == ws
			s.connMu.Unlock()
			if current {
				s.reg.Release(e.ID)
			}
			ws.close("")
			logger.Log().Info("Connection closed", zap.String("ID", e.ID), zap.Error(err))
			return
		}
		if mt != websocket.TextMessage {
			_ = ws.writeJSON(gin.H{"error": "unsupported message type"})
			continue
		}
		var frame challenge.Frame
		if err := json.Unmarshal(msg, &frame); err != nil {
			_ = ws.writeJSON(gin.H{"error": fmt.Sprintf("invalid frame: %v", err)})
			continue
		}
		ret := e.Process(frame)
		if !ret.Success {
			_ = ws.writeJSON(gin.H{"error": ret.Data})
			continue
		}
		if err := ws.writeJSON(ret.Data); err != nil {
			logger.Log().Warn("websocket write failed", zap.String("ID", e.ID), zap.Error(err))
		}
	}
}
