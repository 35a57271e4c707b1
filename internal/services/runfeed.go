package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RunEvent is one entry on the live operator feed: an automation run or a
// single action outcome.
type RunEvent struct {
	Type         string      `json:"type"` // automation_run, action_outcome
	AutomationID uint        `json:"automation_id"`
	EventID      string      `json:"event_id,omitempty"`
	Data         interface{} `json:"data"`
	Timestamp    time.Time   `json:"timestamp"`
}

type runFeedClient struct {
	id   string
	conn *websocket.Conn
	send chan RunEvent
}

// RunFeedHub broadcasts run events to connected operator dashboards.
// The feed is one-way; client frames are read only to detect disconnects.
type RunFeedHub struct {
	clients    map[string]*runFeedClient
	broadcast  chan RunEvent
	register   chan *runFeedClient
	unregister chan *runFeedClient
	logger     *logrus.Logger
	mutex      sync.RWMutex
}

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checks belong to the deployment proxy
	},
}

func NewRunFeedHub(logger *logrus.Logger) *RunFeedHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &RunFeedHub{
		clients:    make(map[string]*runFeedClient),
		broadcast:  make(chan RunEvent, 64),
		register:   make(chan *runFeedClient),
		unregister: make(chan *runFeedClient),
		logger:     logger,
	}
}

// Run processes register/unregister/broadcast until ctx-free shutdown;
// start it in its own goroutine.
func (h *RunFeedHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			h.logger.Debugf("run feed: client %s connected", client.id)
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mutex.Unlock()
		case evt := <-h.broadcast:
			h.mutex.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- evt:
				default:
					// slow consumer, drop the frame rather than block the hub
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// Publish enqueues an event for broadcast. Non-blocking: if the hub is
// saturated the event is dropped, the audit rows remain the source of truth.
func (h *RunFeedHub) Publish(evt RunEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- evt:
	default:
	}
}

// ClientCount returns the number of connected feed clients.
func (h *RunFeedHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the client to the feed.
func (h *RunFeedHub) HandleWebSocket(c *gin.Context) {
	conn, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("run feed: upgrade failed: %v", err)
		return
	}
	client := &runFeedClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan RunEvent, 16),
	}
	h.register <- client
	go h.writePump(client)
	go h.readPump(client)
}

func (h *RunFeedHub) writePump(client *runFeedClient) {
	defer client.conn.Close()
	for evt := range client.send {
		if err := client.conn.WriteJSON(evt); err != nil {
			h.logger.Debugf("run feed: write to %s failed: %v", client.id, err)
			return
		}
	}
}

func (h *RunFeedHub) readPump(client *runFeedClient) {
	defer func() {
		h.unregister <- client
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
