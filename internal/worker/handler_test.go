package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"procureflow/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func acceptedEventPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.NegotiationAcceptedEvent{
		NegotiationID: "neg-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		ProductID:     "prod-1",
		Quantity:      10,
		Unit:          "kg",
		FinalPrice:    49000,
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload
}

func TestMaterializerHandler_Handle(t *testing.T) {
	t.Run("materializes order from accepted event", func(t *testing.T) {
		var received map[string]any
		ordersServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/orders" || r.Method != http.MethodPost {
				t.Errorf("expected POST /orders, got %s %s", r.Method, r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"order-1","negotiation_id":"neg-1","status":"confirmed","total_price":490000}`))
		}))
		defer ordersServer.Close()

		handler := NewMaterializerHandler(ordersServer.URL, ordersServer.Client(), discardLogger())

		if err := handler.Handle(context.Background(), acceptedEventPayload(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if received["negotiation_id"] != "neg-1" {
			t.Errorf("expected negotiation_id neg-1, got %v", received["negotiation_id"])
		}
		if received["final_price"] != float64(49000) {
			t.Errorf("expected final_price 49000, got %v", received["final_price"])
		}
	})

	t.Run("redelivery of accepted event is a no-op", func(t *testing.T) {
		ordersServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"order-1","negotiation_id":"neg-1","status":"confirmed"}`))
		}))
		defer ordersServer.Close()

		handler := NewMaterializerHandler(ordersServer.URL, ordersServer.Client(), discardLogger())

		if err := handler.Handle(context.Background(), acceptedEventPayload(t)); err != nil {
			t.Fatalf("expected redelivery to succeed, got %v", err)
		}
	})

	t.Run("orders service failure is returned for retry", func(t *testing.T) {
		ordersServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ordersServer.Close()

		handler := NewMaterializerHandler(ordersServer.URL, ordersServer.Client(), discardLogger())

		if err := handler.Handle(context.Background(), acceptedEventPayload(t)); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("malformed payload fails without calling orders", func(t *testing.T) {
		handler := NewMaterializerHandler("http://unused", http.DefaultClient, discardLogger())

		if err := handler.Handle(context.Background(), []byte("not json")); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}
