package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cellbridge/smsgw/webhook"
)

func TestDeliver(t *testing.T) {
	received := make(chan webhook.Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		var p webhook.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := webhook.NewClient(srv.URL, nil)
	sent := webhook.Payload{
		ID:                "job-1",
		From:              "+15550001111",
		Text:              "Hi",
		ModemTimestamp:    "26/08/28,10:11:12+08",
		GatewayReceivedAt: time.Date(2026, 8, 28, 10, 11, 15, 0, time.UTC),
		OriginalIndex:     4,
		ModemMemory:       "SM",
	}
	if err := client.Deliver(context.Background(), sent); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got := <-received
	if got != sent {
		t.Errorf("payload mismatch:\n got  %+v\n want %+v", got, sent)
	}
}

func TestDeliverNon2xx(t *testing.T) {
	statuses := []int{http.StatusMovedPermanently, http.StatusBadRequest, http.StatusInternalServerError}
	for _, status := range statuses {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		client := webhook.NewClient(srv.URL, nil)
		if err := client.Deliver(context.Background(), webhook.Payload{ID: "x"}); err == nil {
			t.Errorf("status %d: expected delivery error", status)
		}
		srv.Close()
	}
}

func TestDeliverConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := webhook.NewClient(srv.URL, nil)
	if err := client.Deliver(context.Background(), webhook.Payload{ID: "x"}); err == nil {
		t.Error("expected error for unreachable endpoint")
	}
}
