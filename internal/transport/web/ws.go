package web

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 事件流面向本机UI，跨域交给上层CORS策略
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn 串行化写入的websocket连接
type wsConn struct {
	id     string
	socket *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	c.socket.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.socket.WriteMessage(messageType, data)
}

func (c *wsConn) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.socket.Close()
	}
}

// clientCommand 客户端经websocket下发的控制指令
type clientCommand struct {
	Type string `json:"type"` // send_text / poke / interrupt / voice_start / voice_stop
	Text string `json:"text,omitempty"`
}

// handleWebSocket 升级连接后双向桥接: 事件流下发，控制指令上收
func (s *Server) handleWebSocket(c *gin.Context) {
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WarnTag("WebSocket", "升级失败: %v", err)
		return
	}
	conn := &wsConn{id: uuid.NewString(), socket: socket}
	defer conn.close()

	events, unsub := s.sess.Subscribe()
	defer unsub()

	s.logger.InfoTag("WebSocket", "客户端接入 %s", conn.id)
	done := make(chan struct{})

	// 写泵: 事件流与心跳
	go func() {
		defer close(done)
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case data, ok := <-events:
				if !ok {
					conn.write(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "会话结束"))
					return
				}
				if err := conn.write(websocket.TextMessage, data); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// 读泵: 控制指令
	for {
		_, payload, err := socket.ReadMessage()
		if err != nil {
			break
		}
		var cmd clientCommand
		if err := sonic.Unmarshal(payload, &cmd); err != nil {
			s.logger.WarnTag("WebSocket", "无法解析的指令: %v", err)
			continue
		}
		s.dispatch(cmd)
	}

	conn.close()
	<-done
	s.logger.InfoTag("WebSocket", "客户端断开 %s", conn.id)
}

func (s *Server) dispatch(cmd clientCommand) {
	switch cmd.Type {
	case "send_text":
		s.sess.SendText(cmd.Text)
	case "poke":
		s.sess.Poke()
	case "interrupt":
		s.sess.Interrupt()
	case "voice_start":
		s.sess.StartVoice()
	case "voice_stop":
		s.sess.StopVoice()
	default:
		s.logger.WarnTag("WebSocket", "未知指令类型: %s", cmd.Type)
	}
}
