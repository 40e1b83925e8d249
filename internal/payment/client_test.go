package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newProviderStub(t *testing.T, captureStatus string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "ORDER-1",
			"links": []map[string]string{
				{"rel": "self", "href": "https://provider/self"},
				{"rel": "approve", "href": "https://provider/approve/ORDER-1"},
			},
		})
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER-1/capture", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER-1",
			"status": captureStatus,
			"payer": map[string]string{
				"payer_id":      "PAYER-9",
				"email_address": "payer@example.com",
			},
		})
	})

	return httptest.NewServer(mux)
}

func TestCreateOrder(t *testing.T) {
	ts := newProviderStub(t, "COMPLETED")
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	order, err := client.CreateOrder(ctx, 1000, "Matchday 5 entry", "https://app/ok", "https://app/cancel")
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if order.ID != "ORDER-1" {
		t.Fatalf("order ID = %q, want ORDER-1", order.ID)
	}
	if order.ApproveURL != "https://provider/approve/ORDER-1" {
		t.Fatalf("approve URL = %q", order.ApproveURL)
	}
}

func TestCaptureOrder_Completed(t *testing.T) {
	ts := newProviderStub(t, "COMPLETED")
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	capture, err := client.CaptureOrder(context.Background(), "ORDER-1")
	if err != nil {
		t.Fatalf("CaptureOrder error: %v", err)
	}
	if capture.PayerID != "PAYER-9" || capture.PayerEmail != "payer@example.com" {
		t.Fatalf("unexpected capture: %+v", capture)
	}
}

func TestCaptureOrder_NotCompleted(t *testing.T) {
	ts := newProviderStub(t, "PENDING")
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	_, err := client.CaptureOrder(context.Background(), "ORDER-1")

	var notCompleted *ErrNotCompleted
	if !errors.As(err, &notCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
	if notCompleted.Status != "PENDING" {
		t.Fatalf("status = %q, want PENDING", notCompleted.Status)
	}
}
