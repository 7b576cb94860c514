package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mishalsheza/queue-ease/internal/response"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// Client is one websocket observer. Events are queued on send and written
// by writePump; a full buffer closes the client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *Client) Deliver(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump only watches for the peer going away; observers send nothing.
func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Handler upgrades HTTP requests to websocket observers of the hub.
type Handler struct {
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, log *slog.Logger) *Handler {
	if log == nil {
		log = hub.log
	}
	return &Handler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// QueueWebSocket godoc
// @Summary      Watch a queue
// @Description  Streams queue_updated and queue_removed events for one queue
// @Tags         realtime
// @Param        id   path  string  true  "Queue ID"
// @Security     BearerAuth
// @Router       /api/queues/{id}/ws [get]
func (h *Handler) QueueWebSocket(c *gin.Context) {
	queueID := c.Param("id")
	if queueID == "" {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Code: "VALIDATION_ERROR", Message: "queue id is required"})
		return
	}
	h.serve(c, queueID)
}

// AllQueuesWebSocket godoc
// @Summary      Watch every queue
// @Description  Streams events of all queues, for dashboards
// @Tags         realtime
// @Security     BearerAuth
// @Router       /api/ws [get]
func (h *Handler) AllQueuesWebSocket(c *gin.Context) {
	h.serve(c, AllQueues)
}

func (h *Handler) serve(c *gin.Context, queueID string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "queue_id", queueID, "error", err)
		return
	}
	client := newClient(conn)
	h.hub.Subscribe(queueID, client)
	h.log.Debug("observer attached", "queue_id", queueID, "remote", conn.RemoteAddr().String())

	go client.writePump()
	client.readPump()

	h.hub.Unsubscribe(queueID, client)
	h.log.Debug("observer detached", "queue_id", queueID)
}
