package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/ws", hub.Handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversToJoinedRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialTestHub(t, hub)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "join-project", ProjectID: 7}))

	// the join travels through the read pump and the run loop; publish until
	// the room delivers
	received := make(chan Event, 1)
	go func() {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if json.Unmarshal(data, &ev) == nil {
			received <- ev
		}
	}()

	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev := <-received:
			require.Equal(t, EventTaskUpdate, ev.Type)
			require.Equal(t, uint(7), ev.ProjectID)
			return
		case <-ticker.C:
			hub.Publish(Event{Type: EventTaskUpdate, ProjectID: 7, Payload: gin.H{"id": 1}})
		case <-deadline:
			t.Fatal("no event delivered to joined room")
		}
	}
}

func TestHubIgnoresOtherRooms(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialTestHub(t, hub)
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "join-project", ProjectID: 1}))
	time.Sleep(50 * time.Millisecond)

	hub.Publish(Event{Type: EventProjectUpdate, ProjectID: 2})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "no message expected for a room the client never joined")
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub() // Run never started: the events channel will fill up
	for i := 0; i < 1000; i++ {
		hub.Publish(Event{Type: EventNotification, ProjectID: 1})
	}
}
