package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"procureflow/internal/domain"
)

// Product is the catalog snapshot read at negotiation-open time. The
// negotiation keeps its own copy of these fields; later catalog edits never
// reach an open negotiation.
type Product struct {
	ID                string `json:"id"`
	SellerID          string `json:"seller_id"`
	Name              string `json:"name"`
	BasePrice         int64  `json:"base_price"`
	Unit              string `json:"unit"`
	AvailableQuantity int    `json:"available_quantity"`
}

// Client reads products from the external catalog service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	url := fmt.Sprintf("%s/products/%s", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch product %s: %w", productID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", productID, err)
	}

	return &product, nil
}
