package invoicing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"procureflow/internal/domain"
)

func TestClient_RoundTrip(t *testing.T) {
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoices", handler.HandleIssue)
	mux.HandleFunc("GET /invoices/order/{orderId}", handler.HandleGetByOrder)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	ctx := context.Background()

	if _, err := client.FindByOrder(ctx, "order-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before issuance, got %v", err)
	}

	issued, err := client.Issue(ctx, "order-1", 490000)
	if err != nil {
		t.Fatalf("failed to issue invoice: %v", err)
	}
	if issued.OrderID != "order-1" {
		t.Errorf("expected order-1, got %s", issued.OrderID)
	}

	found, err := client.FindByOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("failed to find invoice: %v", err)
	}
	if found.ID != issued.ID {
		t.Errorf("expected invoice %s, got %s", issued.ID, found.ID)
	}

	replay, err := client.Issue(ctx, "order-1", 490000)
	if err != nil {
		t.Fatalf("failed to replay issuance: %v", err)
	}
	if replay.ID != issued.ID {
		t.Errorf("replay issued a second invoice: %s vs %s", replay.ID, issued.ID)
	}
}
