package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Sender is the outbound messaging capability consumed by action
// executors. Implemented by Client; substituted in tests.
type Sender interface {
	Send(ctx context.Context, req *MessageRequest) (*MessageResult, error)
	HealthCheck(ctx context.Context) error
}

// Client talks to the external courier gateway that owns actual
// email/WhatsApp delivery. The engine never renders or sends messages
// itself.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *Config
}

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		config: config,
	}
}

// Send delivers one message through the gateway, retrying transient
// failures.
func (c *Client) Send(ctx context.Context, req *MessageRequest) (*MessageResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if req.Channel == "" || req.To == "" || req.Template == "" {
		return nil, fmt.Errorf("channel, to and template are required")
	}
	var result MessageResult
	if err := c.doRequestWithRetry(ctx, http.MethodPost, "/api/v1/messages", req, &result); err != nil {
		return nil, fmt.Errorf("send %s message: %w", req.Channel, err)
	}
	return &result, nil
}

// HealthCheck pings the gateway.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doRequestWithRetry(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) createRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	url := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("User-Agent", "Hireflow-Courier-Client/1.0")

	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("Courier API Request: %s %s", req.Method, req.URL.String())
	c.logger.Debugf("Courier API Response: %d %s", resp.StatusCode, string(body))

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error [%d]: %s (code: %s)", resp.StatusCode, errResp.Error, errResp.ErrorCode)
		}
		return fmt.Errorf("API error [%d]: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("Courier API retry attempt %d/%d", attempt, c.config.MaxRetries)
		}

		req, err := c.createRequest(ctx, method, endpoint, body)
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.doRequest(req, result); err != nil {
			lastErr = err
			if attempt < c.config.MaxRetries && c.shouldRetry(err) {
				continue
			}
			break
		}
		return nil
	}
	return lastErr
}

// shouldRetry keeps retries to transport errors and server-side failures;
// 4xx responses are terminal.
func (c *Client) shouldRetry(err error) bool {
	return !strings.Contains(err.Error(), "API error [4")
}
