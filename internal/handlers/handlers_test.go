package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hireflow/internal/services"

	"github.com/gin-gonic/gin"
)

func TestHealthEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHealthHandler()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)

	for _, path := range []string{"/health", "/ready"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, w.Code)
		}
	}
}

func TestRunFeedStatsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := services.NewRunFeedHub(nil)
	go hub.Run()
	r := gin.New()

	feed := NewFeedHandler(hub)
	r.GET("/stats", feed.GetStats)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/stats", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("expected success=true, got %v", body["success"])
	}
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatal("missing data section")
	}
	if data["connected_clients"] != float64(0) {
		t.Errorf("connected_clients = %v, want 0", data["connected_clients"])
	}
}
