package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"procureflow/internal/domain"
)

// Client talks to the invoicing service. The orders service uses it for the
// invoice lookup surface and to request issuance once payment completes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) FindByOrder(ctx context.Context, orderID string) (*domain.Invoice, error) {
	url := fmt.Sprintf("%s/invoices/order/%s", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch invoice for order %s: %w", orderID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invoicing service returned status %d", resp.StatusCode)
	}

	var invoice domain.Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("decode invoice for order %s: %w", orderID, err)
	}

	return &invoice, nil
}

func (c *Client) Issue(ctx context.Context, orderID string, amount int64) (*domain.Invoice, error) {
	body, err := json.Marshal(map[string]any{"order_id": orderID, "amount": amount})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issue invoice for order %s: %w", orderID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invoicing service returned status %d", resp.StatusCode)
	}

	var invoice domain.Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("decode issued invoice for order %s: %w", orderID, err)
	}

	return &invoice, nil
}
