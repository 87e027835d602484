// Package delivery предоставляет клиент для внешнего сервиса партнёра по доставке.
package delivery

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

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vchat-meme-blip/aiburger/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом партнёра по доставке.
// Токен доступа запрашивается по client credentials и кэшируется до истечения.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *retryablehttp.Client

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// NewClient создаёт клиент партнёра по доставке по указанному адресу.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.RetryWaitMin = 500 * time.Millisecond
	httpClient.RetryWaitMax = 5 * time.Second
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:      base,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ensureToken возвращает действующий токен доступа, при необходимости обновляя его.
// Токен считается истёкшим за 30 секунд до номинального срока.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpires.Add(-30*time.Second)) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected token status: %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.token = tr.AccessToken
	c.tokenExpires = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	return c.token, nil
}

type pickupRequest struct {
	OrderID     string     `json:"orderId"`
	UserID      string     `json:"userId"`
	Nickname    string     `json:"nickname,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RegisterPickup регистрирует завершённый заказ у партнёра для передачи курьеру.
func (c *Client) RegisterPickup(ctx context.Context, order *model.Order) error {
	if c.baseURL == "" {
		return fmt.Errorf("delivery client not configured")
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		return fmt.Errorf("ensure token: %w", err)
	}

	body, err := json.Marshal(pickupRequest{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Nickname:    order.Nickname,
		CompletedAt: order.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal pickup: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/pickups", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pickup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("register pickup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected pickup status: %d", resp.StatusCode)
	}

	return nil
}
