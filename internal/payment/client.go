// Package payment provides a thin client for the payment provider's
// order API. The service only consumes capture results; the provider
// remains an external collaborator.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotCompleted is returned when a capture does not reach COMPLETED status.
type ErrNotCompleted struct {
	Status string
}

func (e *ErrNotCompleted) Error() string {
	return fmt.Sprintf("payment not completed: status %s", e.Status)
}

// Client encapsulates HTTP interaction with the payment provider.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a client for the payment provider at the given address.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request status: %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.accessToken = body.AccessToken
	// Renew a minute early so in-flight requests never carry a stale token.
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)

	return c.accessToken, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Order is the provider's view of a created order.
type Order struct {
	ID         string
	ApproveURL string
}

// CreateOrder creates a provider order for the given amount in minor units.
func (c *Client) CreateOrder(ctx context.Context, amountCents int64, description, returnURL, cancelURL string) (*Order, error) {
	reqBody := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"amount": map[string]string{
					"currency_code": "USD",
					"value":         fmt.Sprintf("%d.%02d", amountCents/100, amountCents%100),
				},
				"description": description,
			},
		},
		"application_context": map[string]string{
			"brand_name":   "The Great Escape",
			"landing_page": "BILLING",
			"user_action":  "PAY_NOW",
			"return_url":   returnURL,
			"cancel_url":   cancelURL,
		},
	}

	var respBody struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}

	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", reqBody, &respBody); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	order := &Order{ID: respBody.ID}
	for _, l := range respBody.Links {
		if l.Rel == "approve" {
			order.ApproveURL = l.Href
		}
	}

	return order, nil
}

// Capture is the trusted result of a completed order capture.
type Capture struct {
	OrderID    string
	Status     string
	PayerID    string
	PayerEmail string
}

// CaptureOrder captures a previously approved order. A non COMPLETED
// capture is returned as *ErrNotCompleted.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	var respBody struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Payer  struct {
			PayerID      string `json:"payer_id"`
			EmailAddress string `json:"email_address"`
		} `json:"payer"`
	}

	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &respBody); err != nil {
		return nil, fmt.Errorf("capture order: %w", err)
	}

	if respBody.Status != "COMPLETED" {
		return nil, &ErrNotCompleted{Status: respBody.Status}
	}

	return &Capture{
		OrderID:    respBody.ID,
		Status:     respBody.Status,
		PayerID:    respBody.Payer.PayerID,
		PayerEmail: respBody.Payer.EmailAddress,
	}, nil
}
