package courier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testClient(baseURL string, maxRetries int) *Client {
	return NewClient(&Config{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	}, logrus.New())
}

func TestClient_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Error("missing API key header")
		}
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Channel != ChannelEmail || req.To != "ana@example.com" {
			t.Errorf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(MessageResult{ID: "msg-1", Status: "accepted", Channel: req.Channel})
	}))
	defer server.Close()

	client := testClient(server.URL, 0)
	result, err := client.Send(context.Background(), &MessageRequest{
		Channel:  ChannelEmail,
		To:       "ana@example.com",
		Template: "welcome",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.ID != "msg-1" || result.Status != "accepted" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestClient_SendValidation(t *testing.T) {
	client := testClient("http://localhost:0", 0)
	if _, err := client.Send(context.Background(), nil); err == nil {
		t.Error("nil request should fail")
	}
	if _, err := client.Send(context.Background(), &MessageRequest{Channel: ChannelEmail}); err == nil {
		t.Error("missing to/template should fail")
	}
}

// 4xx 为终态，不重试
func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "unknown template", ErrorCode: "TEMPLATE_NOT_FOUND"})
	}))
	defer server.Close()

	client := testClient(server.URL, 3)
	_, err := client.Send(context.Background(), &MessageRequest{
		Channel: ChannelEmail, To: "a@b.c", Template: "nope",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", got)
	}
}

// 5xx 重试直至成功
func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(MessageResult{ID: "msg-2", Status: "accepted"})
	}))
	defer server.Close()

	client := testClient(server.URL, 3)
	result, err := client.Send(context.Background(), &MessageRequest{
		Channel: ChannelWhatsApp, To: "+351", Template: "t",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.ID != "msg-2" {
		t.Errorf("result = %+v", result)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := testClient(server.URL, 0)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}

func TestClient_ContextCancelledDuringRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(&Config{
		BaseURL:    server.URL,
		Timeout:    time.Second,
		MaxRetries: 5,
		RetryDelay: 50 * time.Millisecond,
	}, logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Send(ctx, &MessageRequest{Channel: ChannelEmail, To: "a@b.c", Template: "t"})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
}
