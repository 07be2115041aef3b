//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"procureflow/internal/catalog"
	"procureflow/internal/domain"
	"procureflow/internal/invoicing"
	"procureflow/internal/messaging"
	"procureflow/internal/negotiations"
	"procureflow/internal/orders"
	"procureflow/internal/worker"
)

const (
	testBuyerID   = "buyer-acme"
	testSellerID  = "seller-steelco"
	testProductID = "PROD-STEEL-01"
)

// catalogStub serves a single product snapshot the way the catalog service
// would.
func catalogStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != testProductID {
			http.Error(w, `{"error":"product not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fmt.Sprintf(
			`{"id":%q,"seller_id":%q,"name":"Cold-rolled steel coil","base_price":50000,"unit":"coil","available_quantity":25}`,
			testProductID, testSellerID,
		))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newNegotiationsHandler(t *testing.T, connStr string) (*negotiations.Handler, *negotiations.NegotiationRepository) {
	t.Helper()

	db, err := DBWithSchema(connStr, "negotiations")
	if err != nil {
		t.Fatalf("failed to create negotiations DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	catalogServer := catalogStub(t)
	catalogClient := catalog.NewClient(catalogServer.URL, &http.Client{Timeout: 5 * time.Second})

	repo := negotiations.NewNegotiationRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, err := negotiations.NewHandler(repo, catalogClient, nil, logger)
	if err != nil {
		t.Fatalf("failed to create negotiations handler: %v", err)
	}

	return handler, repo
}

func newNegotiationsMux(handler *negotiations.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /negotiations", handler.HandleOpen)
	mux.HandleFunc("GET /negotiations", handler.HandleList)
	mux.HandleFunc("GET /negotiations/{id}", handler.HandleGet)
	mux.HandleFunc("POST /negotiations/{id}/offers", handler.HandleAppendOffer)
	mux.HandleFunc("POST /negotiations/{id}/accept", handler.HandleAccept)
	mux.HandleFunc("POST /negotiations/{id}/reject", handler.HandleReject)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func openNegotiation(t *testing.T, mux *http.ServeMux, body string) domain.Negotiation {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/negotiations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var negotiation domain.Negotiation
	if err := json.NewDecoder(rec.Body).Decode(&negotiation); err != nil {
		t.Fatalf("failed to decode negotiation: %v", err)
	}
	return negotiation
}

func TestNegotiationLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	handler, repo := newNegotiationsHandler(t, pg.ConnStr)
	mux := newNegotiationsMux(handler)

	negotiation := openNegotiation(t, mux, fmt.Sprintf(
		`{"buyer_id": %q, "product_id": %q, "amount": 48000, "quantity": 10, "message": "can you do 48000 for 10 units?"}`,
		testBuyerID, testProductID,
	))

	if negotiation.Status != domain.StatusNegotiation {
		t.Fatalf("expected status %q, got %q", domain.StatusNegotiation, negotiation.Status)
	}
	if negotiation.SellerID != testSellerID {
		t.Fatalf("expected seller_id %q from catalog snapshot, got %q", testSellerID, negotiation.SellerID)
	}
	if negotiation.BasePrice != 50000 {
		t.Fatalf("expected base_price 50000 from catalog snapshot, got %d", negotiation.BasePrice)
	}
	if len(negotiation.Offers) != 1 {
		t.Fatalf("expected 1 offer in ledger, got %d", len(negotiation.Offers))
	}
	if negotiation.CurrentOfferAmount != 48000 {
		t.Fatalf("expected current_offer_amount 48000, got %d", negotiation.CurrentOfferAmount)
	}
	if negotiation.Quantity != 10 {
		t.Fatalf("expected quantity 10, got %d", negotiation.Quantity)
	}

	// Seller counters; the negotiation leaves the opening state.
	rec, _ := doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		fmt.Sprintf(`{"sender_id": %q, "amount": 49000, "message": "49000 is the best I can do"}`, testSellerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	countered, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if countered.Status != domain.StatusInNegotiation {
		t.Fatalf("expected status %q, got %q", domain.StatusInNegotiation, countered.Status)
	}
	if len(countered.Offers) != 2 {
		t.Fatalf("expected 2 offers in ledger, got %d", len(countered.Offers))
	}
	if countered.CurrentOfferAmount != 49000 {
		t.Fatalf("expected current_offer_amount 49000, got %d", countered.CurrentOfferAmount)
	}

	// A second consecutive seller offer violates turn alternation and must
	// leave the ledger untouched.
	rec, body := doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		fmt.Sprintf(`{"sender_id": %q, "amount": 49500}`, testSellerID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "turn_violation" {
		t.Fatalf("expected code 'turn_violation', got %v", body["code"])
	}

	unchanged, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if len(unchanged.Offers) != 2 {
		t.Fatalf("expected ledger unchanged at 2 offers, got %d", len(unchanged.Offers))
	}
	if unchanged.CurrentOfferAmount != 49000 {
		t.Fatalf("expected current_offer_amount unchanged at 49000, got %d", unchanged.CurrentOfferAmount)
	}

	// An outsider cannot participate at all.
	rec, body = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		`{"sender_id": "buyer-somebody-else", "amount": 1000}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d: %s", http.StatusForbidden, rec.Code, rec.Body.String())
	}
	if body["code"] != "unauthorized_sender" {
		t.Fatalf("expected code 'unauthorized_sender', got %v", body["code"])
	}

	// Buyer accepts the seller's counter.
	rec, _ = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/accept",
		fmt.Sprintf(`{"actor_id": %q}`, testBuyerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	accepted, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if accepted.Status != domain.StatusAccepted {
		t.Fatalf("expected status %q, got %q", domain.StatusAccepted, accepted.Status)
	}
	if accepted.CurrentOfferAmount != 49000 {
		t.Fatalf("expected final price 49000, got %d", accepted.CurrentOfferAmount)
	}

	// The terminal state refuses further offers and closures.
	rec, body = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		fmt.Sprintf(`{"sender_id": %q, "amount": 47000}`, testBuyerID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "invalid_transition" {
		t.Fatalf("expected code 'invalid_transition', got %v", body["code"])
	}

	rec, body = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/reject",
		fmt.Sprintf(`{"actor_id": %q}`, testSellerID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "invalid_transition" {
		t.Fatalf("expected code 'invalid_transition', got %v", body["code"])
	}
}

func TestNegotiationReject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	handler, repo := newNegotiationsHandler(t, pg.ConnStr)
	mux := newNegotiationsMux(handler)

	negotiation := openNegotiation(t, mux, fmt.Sprintf(
		`{"buyer_id": %q, "product_id": %q, "amount": 30000, "quantity": 5}`,
		testBuyerID, testProductID,
	))

	// The buyer cannot reject before the seller has engaged.
	rec, body := doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/reject",
		fmt.Sprintf(`{"actor_id": %q}`, testBuyerID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "invalid_transition" {
		t.Fatalf("expected code 'invalid_transition', got %v", body["code"])
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/reject",
		fmt.Sprintf(`{"actor_id": %q}`, testSellerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	rejected, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if rejected.Status != domain.StatusRejected {
		t.Fatalf("expected status %q, got %q", domain.StatusRejected, rejected.Status)
	}

	// Rejecting again is an invalid transition out of a terminal state.
	rec, body = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/reject",
		fmt.Sprintf(`{"actor_id": %q}`, testBuyerID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "invalid_transition" {
		t.Fatalf("expected code 'invalid_transition', got %v", body["code"])
	}
}

func TestListedPriceOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	handler, repo := newNegotiationsHandler(t, pg.ConnStr)
	mux := newNegotiationsMux(handler)

	// No amount: the buyer opens against the listed price with an empty
	// ledger, inheriting quantity from the catalog.
	negotiation := openNegotiation(t, mux, fmt.Sprintf(
		`{"buyer_id": %q, "product_id": %q}`, testBuyerID, testProductID,
	))

	if len(negotiation.Offers) != 0 {
		t.Fatalf("expected empty ledger, got %d offers", len(negotiation.Offers))
	}
	if negotiation.CurrentOfferAmount != 50000 {
		t.Fatalf("expected current_offer_amount 50000 (listed price), got %d", negotiation.CurrentOfferAmount)
	}
	if negotiation.Quantity != 25 {
		t.Fatalf("expected quantity 25 inherited from catalog, got %d", negotiation.Quantity)
	}

	// The empty ledger is an explicit [] on the wire, same as in list views.
	rec, getBody := doJSON(t, mux, http.MethodGet, "/negotiations/"+negotiation.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	offers, ok := getBody["offers"].([]any)
	if !ok {
		t.Fatalf("expected offers to be an array, got %T", getBody["offers"])
	}
	if len(offers) != 0 {
		t.Fatalf("expected empty offers array, got %d entries", len(offers))
	}

	// Accepting with no offer on the table is not a legal close.
	rec, body := doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/accept",
		fmt.Sprintf(`{"actor_id": %q}`, testBuyerID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "invalid_transition" {
		t.Fatalf("expected code 'invalid_transition', got %v", body["code"])
	}

	// Once the seller confirms the listed price with an offer, the buyer can
	// accept it.
	rec, _ = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		fmt.Sprintf(`{"sender_id": %q, "amount": 50000, "message": "listed price stands, 25 units available"}`, testSellerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/accept",
		fmt.Sprintf(`{"actor_id": %q}`, testBuyerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	accepted, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if accepted.Status != domain.StatusAccepted {
		t.Fatalf("expected status %q, got %q", domain.StatusAccepted, accepted.Status)
	}
}

func TestQuantityParsedFromMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	handler, repo := newNegotiationsHandler(t, pg.ConnStr)
	mux := newNegotiationsMux(handler)

	// The opening counter-offer carries its quantity only in the message; it
	// must win over the catalog's available quantity.
	negotiation := openNegotiation(t, mux, fmt.Sprintf(
		`{"buyer_id": %q, "product_id": %q, "amount": 48000, "message": "can you do 48000 for 10 units?"}`,
		testBuyerID, testProductID,
	))
	if negotiation.Quantity != 10 {
		t.Fatalf("expected quantity 10 parsed from opening message, got %d", negotiation.Quantity)
	}

	// The seller's counter carries no structured quantity; it is recovered
	// from the message text.
	rec, _ := doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		fmt.Sprintf(`{"sender_id": %q, "amount": 49000, "message": "I can ship 8 units at that price"}`, testSellerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	updated, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if updated.Quantity != 8 {
		t.Fatalf("expected quantity 8 parsed from message, got %d", updated.Quantity)
	}

	// A counter with neither a structured quantity nor a parsable message
	// inherits the standing quantity.
	rec, _ = doJSON(t, mux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		fmt.Sprintf(`{"sender_id": %q, "amount": 48500, "message": "deal at 48500?"}`, testBuyerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	inherited, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if inherited.Quantity != 8 {
		t.Fatalf("expected quantity 8 inherited, got %d", inherited.Quantity)
	}
}

func TestConcurrentOffersSerialized(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	handler, repo := newNegotiationsHandler(t, pg.ConnStr)
	mux := newNegotiationsMux(handler)

	negotiation := openNegotiation(t, mux, fmt.Sprintf(
		`{"buyer_id": %q, "product_id": %q, "amount": 48000, "quantity": 10}`,
		testBuyerID, testProductID,
	))

	// Five concurrent seller counters race on the same negotiation. The row
	// lock serializes them: exactly one wins, the rest see a turn violation.
	const attempts = 5
	results := make(chan int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
				strings.NewReader(fmt.Sprintf(`{"sender_id": %q, "amount": %d}`, testSellerID, amount)))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			results <- rec.Code
		}(int64(49000 + i))
	}
	wg.Wait()
	close(results)

	succeeded, conflicted := 0, 0
	for code := range results {
		switch code {
		case http.StatusOK:
			succeeded++
		case http.StatusConflict:
			conflicted++
		default:
			t.Fatalf("unexpected status code %d", code)
		}
	}

	if succeeded != 1 {
		t.Fatalf("expected exactly 1 offer to win the race, got %d", succeeded)
	}
	if conflicted != attempts-1 {
		t.Fatalf("expected %d turn violations, got %d", attempts-1, conflicted)
	}

	final, err := repo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}
	if len(final.Offers) != 2 {
		t.Fatalf("expected 2 offers in ledger after race, got %d", len(final.Offers))
	}
}

func TestOrderMaterializationFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	negotiationsHandler, negotiationsRepo := newNegotiationsHandler(t, pg.ConnStr)
	negMux := newNegotiationsMux(negotiationsHandler)

	invoicingHandler := invoicing.NewHandler(logger)
	invoicingMux := http.NewServeMux()
	invoicingMux.HandleFunc("POST /invoices", invoicingHandler.HandleIssue)
	invoicingMux.HandleFunc("GET /invoices/order/{orderId}", invoicingHandler.HandleGetByOrder)
	invoicingServer := httptest.NewServer(invoicingMux)
	defer invoicingServer.Close()

	ordersDB, err := DBWithSchema(pg.ConnStr, "orders")
	if err != nil {
		t.Fatalf("failed to create orders DB: %v", err)
	}
	defer func() { _ = ordersDB.Close() }()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	ordersRepo := orders.NewOrderRepository(ordersDB)
	invoicingClient := invoicing.NewClient(invoicingServer.URL, httpClient)
	ordersHandler := orders.NewHandler(ordersRepo, invoicingClient, logger)
	ordersMux := http.NewServeMux()
	ordersMux.HandleFunc("POST /orders", ordersHandler.HandleMaterialize)
	ordersMux.HandleFunc("GET /orders/{id}", ordersHandler.HandleGet)
	ordersMux.HandleFunc("POST /orders/{id}/payment", ordersHandler.HandleRecordPayment)
	ordersMux.HandleFunc("POST /orders/{id}/cancel", ordersHandler.HandleCancel)
	ordersMux.HandleFunc("PATCH /orders/{id}/logistics", ordersHandler.HandleSetLogistics)
	ordersMux.HandleFunc("GET /orders/{id}/invoice", ordersHandler.HandleGetInvoice)
	ordersServer := httptest.NewServer(ordersMux)
	defer ordersServer.Close()

	materializer := worker.NewMaterializerHandler(ordersServer.URL, httpClient, logger)

	// Drive a negotiation to acceptance: buyer opens at 48000 for 10 units,
	// seller counters at 49000, buyer accepts.
	negotiation := openNegotiation(t, negMux, fmt.Sprintf(
		`{"buyer_id": %q, "product_id": %q, "amount": 48000, "quantity": 10}`,
		testBuyerID, testProductID,
	))
	rec, _ := doJSON(t, negMux, http.MethodPost, "/negotiations/"+negotiation.ID+"/offers",
		fmt.Sprintf(`{"sender_id": %q, "amount": 49000}`, testSellerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	rec, _ = doJSON(t, negMux, http.MethodPost, "/negotiations/"+negotiation.ID+"/accept",
		fmt.Sprintf(`{"actor_id": %q}`, testBuyerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	accepted, err := negotiationsRepo.GetByID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch negotiation: %v", err)
	}

	event := domain.NegotiationAcceptedEvent{
		NegotiationID: accepted.ID,
		BuyerID:       accepted.BuyerID,
		SellerID:      accepted.SellerID,
		ProductID:     accepted.ProductID,
		Quantity:      accepted.Quantity,
		Unit:          accepted.Unit,
		FinalPrice:    accepted.CurrentOfferAmount,
		DeliveryDate:  accepted.DesiredDeliveryDate,
		Timestamp:     accepted.UpdatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	if err := materializer.Handle(ctx, payload); err != nil {
		t.Fatalf("materializer failed: %v", err)
	}

	order, err := ordersRepo.GetByNegotiationID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if order == nil {
		t.Fatal("order not materialized")
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected order status %q, got %q", domain.OrderStatusConfirmed, order.Status)
	}
	if order.FinalPrice != 49000 {
		t.Fatalf("expected final_price 49000, got %d", order.FinalPrice)
	}
	if order.TotalPrice != 490000 {
		t.Fatalf("expected total_price 490000, got %d", order.TotalPrice)
	}

	// Redelivering the event must not create a second order.
	if err := materializer.Handle(ctx, payload); err != nil {
		t.Fatalf("materializer replay failed: %v", err)
	}
	replayed, err := ordersRepo.GetByNegotiationID(ctx, negotiation.ID)
	if err != nil {
		t.Fatalf("failed to fetch order after replay: %v", err)
	}
	if replayed.ID != order.ID {
		t.Fatalf("replay created a new order: %s != %s", replayed.ID, order.ID)
	}

	// No invoice exists before payment.
	rec, body := doJSON(t, ordersMux, http.MethodGet, "/orders/"+order.ID+"/invoice", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "invalid_transition" {
		t.Fatalf("expected code 'invalid_transition', got %v", body["code"])
	}

	// Payment completes the order and triggers invoice issuance.
	rec, _ = doJSON(t, ordersMux, http.MethodPost, "/orders/"+order.ID+"/payment", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	completed, err := ordersRepo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected order status %q, got %q", domain.OrderStatusCompleted, completed.Status)
	}

	req := httptest.NewRequest(http.MethodGet, "/orders/"+order.ID+"/invoice", nil)
	invoiceRec := httptest.NewRecorder()
	ordersMux.ServeHTTP(invoiceRec, req)
	if invoiceRec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, invoiceRec.Code, invoiceRec.Body.String())
	}
	var invoice domain.Invoice
	if err := json.NewDecoder(invoiceRec.Body).Decode(&invoice); err != nil {
		t.Fatalf("failed to decode invoice: %v", err)
	}
	if invoice.OrderID != order.ID {
		t.Fatalf("expected invoice order_id %s, got %s", order.ID, invoice.OrderID)
	}
	if invoice.Amount != 490000 {
		t.Fatalf("expected invoice amount 490000, got %d", invoice.Amount)
	}
	if invoice.Number == "" {
		t.Fatal("expected invoice number to be set")
	}

	// Logistics annotations ride along without changing the order status.
	rec, _ = doJSON(t, ordersMux, http.MethodPatch, "/orders/"+order.ID+"/logistics", `{"status": "dispatched"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	// A completed order cannot be cancelled.
	rec, body = doJSON(t, ordersMux, http.MethodPost, "/orders/"+order.ID+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if body["code"] != "invalid_transition" {
		t.Fatalf("expected code 'invalid_transition', got %v", body["code"])
	}
}

func TestOrderCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	ordersDB, err := DBWithSchema(pg.ConnStr, "orders")
	if err != nil {
		t.Fatalf("failed to create orders DB: %v", err)
	}
	defer func() { _ = ordersDB.Close() }()

	repo := orders.NewOrderRepository(ordersDB)
	order, created, err := repo.Materialize(ctx, orders.MaterializeParams{
		NegotiationID: "7bb9a64e-9f3e-4df5-9a73-1f3a3c43d111",
		BuyerID:       testBuyerID,
		SellerID:      testSellerID,
		ProductID:     testProductID,
		Quantity:      3,
		Unit:          "coil",
		FinalPrice:    45000,
	})
	if err != nil {
		t.Fatalf("failed to materialize order: %v", err)
	}
	if !created {
		t.Fatal("expected order to be created")
	}

	cancelled, err := repo.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to cancel order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected status %q, got %q", domain.OrderStatusCancelled, cancelled.Status)
	}

	// Cancelling again is a no-op, not an error.
	again, err := repo.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("expected repeated cancel to succeed, got %v", err)
	}
	if again.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected status %q, got %q", domain.OrderStatusCancelled, again.Status)
	}

	// A cancelled order never completes.
	if _, err := repo.RecordPayment(ctx, order.ID); err == nil {
		t.Fatal("expected payment on cancelled order to fail")
	}
}

func TestKafkaEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	producer := messaging.NewProducer(brokers, messaging.TopicNegotiationAccepted)
	defer func() { _ = producer.Close() }()

	event := domain.NegotiationAcceptedEvent{
		NegotiationID: "2f6d3a1c-9c51-4a38-8a1e-b6f1d77e2222",
		BuyerID:       testBuyerID,
		SellerID:      testSellerID,
		ProductID:     testProductID,
		Quantity:      10,
		Unit:          "coil",
		FinalPrice:    49000,
		Timestamp:     time.Now().UTC(),
	}

	if err := producer.Publish(ctx, event.NegotiationID, event); err != nil {
		t.Fatalf("failed to publish event: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, messaging.TopicNegotiationAccepted, "integration-test",
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	received := make(chan domain.NegotiationAcceptedEvent, 1)
	consumeCtx, stopConsume := context.WithCancel(ctx)
	defer stopConsume()

	go func() {
		_ = consumer.Consume(consumeCtx, func(ctx context.Context, payload []byte) error {
			var got domain.NegotiationAcceptedEvent
			if err := json.Unmarshal(payload, &got); err != nil {
				return err
			}
			received <- got
			return nil
		})
	}()

	select {
	case got := <-received:
		if got.NegotiationID != event.NegotiationID {
			t.Fatalf("expected negotiation_id %s, got %s", event.NegotiationID, got.NegotiationID)
		}
		if got.FinalPrice != 49000 {
			t.Fatalf("expected final_price 49000, got %d", got.FinalPrice)
		}
	case <-time.After(60 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
