package presentation

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/metacubex/mihomo/log"
)

const (
	hubWriteTimeout = 5 * time.Second
	hubSendBuffer   = 8
)

var hubUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(u.Host), strings.TrimSpace(r.Host))
	},
}

type hubClient struct {
	conn *websocket.Conn
	send chan Frame
}

// Hub 将快照推送给所有已连接的浏览器
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	last    *Frame
	closed  bool
}

// NewHub 创建websocket广播中心
func NewHub() *Hub {
	return &Hub{clients: make(map[*hubClient]struct{})}
}

// Render 广播快照，发送缓冲已满的客户端跳过本帧
func (h *Hub) Render(frame Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &frame
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			log.Debugln("websocket client %s lagging, frame dropped", c.conn.RemoteAddr())
		}
	}
	return nil
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP 升级连接，先发送最近一帧，之后持续推送
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := hubUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnln("websocket upgrade failed: %v", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan Frame, hubSendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- *h.last
	}
	h.mu.Unlock()

	h.serve(c)
}

func (h *Hub) serve(c *hubClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(hubWriteTimeout))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
