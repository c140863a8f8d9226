package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/craftmarket-system/internal/model"
)

func TestSend_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/push" {
			t.Fatalf("path = %s, want /api/push", r.URL.Path)
		}

		var req pushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.UserID != "u1" || req.Type != "order_completed" {
			t.Fatalf("unexpected request: %+v", req)
		}
		if req.Data["order_id"] != "o1" {
			t.Fatalf("order_id missing from data: %+v", req.Data)
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, &model.Notification{
		UserID:  "u1",
		Type:    "order_completed",
		Title:   "Order Completed",
		Message: "done",
		Data:    map[string]any{"order_id": "o1"},
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

func TestSend_NotConfigured(t *testing.T) {
	client := NewClient("")

	err := client.Send(context.Background(), &model.Notification{UserID: "u1"})
	if err == nil {
		t.Fatalf("expected error for unconfigured gateway")
	}
}

func TestSend_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.Send(ctx, &model.Notification{UserID: "u1"})
	if err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
}
