package services

import (
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"net/http/httptest"
)

func TestRunFeedHub_ClientManagement(t *testing.T) {
	hub := NewRunFeedHub(testLogger())
	go hub.Run()

	// 模拟客户端连接
	client1 := &runFeedClient{id: "client-1", send: make(chan RunEvent, 16)}
	client2 := &runFeedClient{id: "client-2", send: make(chan RunEvent, 16)}

	hub.register <- client1
	hub.register <- client2
	time.Sleep(50 * time.Millisecond)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}

	hub.unregister <- client1
	time.Sleep(50 * time.Millisecond)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}
}

func TestRunFeedHub_Broadcast(t *testing.T) {
	hub := NewRunFeedHub(testLogger())
	go hub.Run()

	client := &runFeedClient{id: "client-1", send: make(chan RunEvent, 16)}
	hub.register <- client
	time.Sleep(50 * time.Millisecond)

	hub.Publish(RunEvent{Type: "automation_run", AutomationID: 7, EventID: "evt-1"})

	select {
	case evt := <-client.send:
		if evt.Type != "automation_run" || evt.AutomationID != 7 {
			t.Errorf("unexpected event: %+v", evt)
		}
		// Publish 会补全时间戳
		if evt.Timestamp.IsZero() {
			t.Error("timestamp should be set")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

// 没有订阅者时 Publish 不能阻塞调用方
func TestRunFeedHub_PublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewRunFeedHub(testLogger())
	go hub.Run()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Publish(RunEvent{Type: "action_outcome", AutomationID: uint(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked without consumers")
	}
}

func TestRunFeedHub_WebSocketEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewRunFeedHub(testLogger())
	go hub.Run()

	router := gin.New()
	router.GET("/ws/runs", hub.HandleWebSocket)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/runs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}

	hub.Publish(RunEvent{Type: "automation_run", AutomationID: 3, EventID: "evt-9"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt RunEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != "automation_run" || evt.AutomationID != 3 || evt.EventID != "evt-9" {
		t.Errorf("unexpected event: %+v", evt)
	}
}
