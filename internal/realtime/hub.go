package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API is token-authenticated; cross-origin browser clients are expected
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is what the browser sends: room management only.
type clientMessage struct {
	Type      string `json:"type"`
	ProjectID uint   `json:"project_id"`
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	projects map[uint]bool
}

// Hub fans events out to websocket clients grouped into project rooms. All
// room state is owned by the run loop; handlers talk to it over channels.
type Hub struct {
	clients    map[*client]bool
	rooms      map[uint]map[*client]bool
	register   chan *client
	unregister chan *client
	join       chan roomChange
	leave      chan roomChange
	events     chan Event
}

type roomChange struct {
	c         *client
	projectID uint
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		rooms:      make(map[uint]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		join:       make(chan roomChange),
		leave:      make(chan roomChange),
		events:     make(chan Event, 256),
	}
}

// Run owns the room map. Start once, before serving.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				for pid := range c.projects {
					h.removeFromRoom(c, pid)
				}
				close(c.send)
			}
		case rc := <-h.join:
			if h.rooms[rc.projectID] == nil {
				h.rooms[rc.projectID] = make(map[*client]bool)
			}
			h.rooms[rc.projectID][rc.c] = true
			rc.c.projects[rc.projectID] = true
		case rc := <-h.leave:
			h.removeFromRoom(rc.c, rc.projectID)
			delete(rc.c.projects, rc.projectID)
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) removeFromRoom(c *client, projectID uint) {
	room := h.rooms[projectID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, projectID)
	}
}

func (h *Hub) broadcast(ev Event) {
	room := h.rooms[ev.ProjectID]
	if len(room) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("realtime: marshal event: %v", err)
		return
	}
	for c := range room {
		select {
		case c.send <- data:
		default:
			// slow consumer; the event is dropped for this client
		}
	}
}

// Publish queues an event for fan-out. Never blocks the caller; when the hub
// is saturated the event is dropped.
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
	default:
	}
}

// Handler upgrades the connection and starts the read/write pumps.
func (h *Hub) Handler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("realtime: upgrade: %v", err)
		return
	}
	cl := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		projects: make(map[uint]bool),
	}
	h.register <- cl
	go cl.writePump()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "join-project":
			c.hub.join <- roomChange{c: c, projectID: msg.ProjectID}
		case "leave-project":
			c.hub.leave <- roomChange{c: c, projectID: msg.ProjectID}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
