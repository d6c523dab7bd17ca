package helloasso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
)

const (
	tokenPath     = "/oauth2/token"
	ordersPath    = "/v5/orders/"
	retryInterval = 200 * time.Millisecond
	maxErrorBody  = 2048
)

// Client talks to the payment platform with client-credentials auth.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokens       *TokenCache
	maxRetries   uint64
	interval     time.Duration
}

// NewClient builds a gateway client. tokens may be shared between clients;
// nil gets a private cache.
func NewClient(cfg config.HelloAssoConfig, tokens *TokenCache, httpClient *http.Client) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("helloasso client credentials are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("helloasso base url is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if tokens == nil {
		tokens = NewTokenCache()
	}
	return &Client{
		baseURL:      base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		tokens:       tokens,
		maxRetries:   cfg.MaxRetries,
		interval:     retryInterval,
	}, nil
}

// GetOrder fetches the full order. Transport failures and 5xx responses are
// retried a fixed number of times.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var body []byte
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		body, callErr = c.call(ctx, http.MethodGet, ordersPath+url.PathEscape(orderID))
		if callErr != nil && isTransient(callErr) {
			return retry.RetryableError(callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode order")
	}
	order.Raw = json.RawMessage(body)
	return &order, nil
}

// CancelOrder refunds the order. It is never retried.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	_, err := c.call(ctx, http.MethodPost, ordersPath+url.PathEscape(orderID)+"/cancel")
	return err
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.status)
	}
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError || se.status == http.StatusTooManyRequests
	}
	return pkgerrors.IsRetryable(err)
}

// call performs one authenticated request. A 401 refreshes the token once.
func (c *Client) call(ctx context.Context, method, path string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Get(ctx, c.clientID, c.clientSecret, c.fetchToken)
		if err != nil {
			return nil, err
		}

		body, status, err := c.send(ctx, method, path, token)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("helloasso %s %s", method, path))
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate(c.clientID, c.clientSecret)
			continue
		}
		if status < 200 || status > 299 {
			return nil, pkgerrors.Wrap(
				pkgerrors.CodeGateway,
				&statusError{status: status, body: snippet(body)},
				fmt.Sprintf("helloasso %s %s returned %d", method, path, status),
			)
		}
		return body, nil
	}
}

func (c *Client) send(ctx context.Context, method, path, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) fetchToken(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "helloasso token request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Token{}, pkgerrors.Wrap(
			pkgerrors.CodeGateway,
			&statusError{status: resp.StatusCode, body: snippet(b)},
			"helloasso token endpoint rejected credentials",
		)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Token{}, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode helloasso token")
	}
	if payload.AccessToken == "" {
		return Token{}, pkgerrors.New(pkgerrors.CodeGateway, "helloasso token response missing access_token")
	}
	return Token{AccessToken: payload.AccessToken, ExpiresIn: time.Duration(payload.ExpiresIn) * time.Second}, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
