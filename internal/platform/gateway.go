package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"contactbot/core/logger"
	"contactbot/core/telegram/netutil"
	"log/slog"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	defaultClientTimeout   = 45 * time.Second
	defaultRetryAttempts   = 2
)

// retryBackoff scales the linear delay between retried gateway calls.
var retryBackoff = 2 * time.Second

// Config holds gateway connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewDialer returns a Dialer producing gateway-backed clients that share one
// tuned HTTP client.
func NewDialer(cfg Config) Dialer {
	httpClient := buildHTTPClient(cfg.Timeout)
	base := strings.TrimRight(cfg.BaseURL, "/")
	logger.Platform.Info("gateway dialer ready",
		slog.String("event", "dial.init"),
		slog.String("base_url", base),
		slog.Duration("timeout", httpClient.Timeout),
	)
	return func(appID int, appHash, session string) Client {
		return &gatewayClient{
			base:    base,
			http:    httpClient,
			appID:   appID,
			appHash: appHash,
			session: session,
		}
	}
}

func buildHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshake,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// gatewayClient talks to the platform gateway over JSON/HTTP. The gateway
// keeps the live platform connection server-side; the serialized session
// token travels with every call and may be rotated by the gateway.
type gatewayClient struct {
	base    string
	http    *http.Client
	appID   int
	appHash string

	mu      sync.Mutex
	session string
}

type gatewayRequest struct {
	AppID    int       `json:"app_id"`
	AppHash  string    `json:"app_hash"`
	Session  string    `json:"session,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Code     string    `json:"code,omitempty"`
	Password string    `json:"password,omitempty"`
	Contacts []Contact `json:"contacts,omitempty"`
}

type gatewayResponse struct {
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"message,omitempty"`
	Session    string         `json:"session,omitempty"`
	Authorized bool           `json:"authorized,omitempty"`
	Users      []ImportedUser `json:"users,omitempty"`
}

func (c *gatewayClient) Connect(ctx context.Context) error {
	_, err := c.call(ctx, "/connect", gatewayRequest{})
	return err
}

func (c *gatewayClient) IsAuthorized(ctx context.Context) (bool, error) {
	resp, err := c.call(ctx, "/isAuthorized", gatewayRequest{})
	if err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

func (c *gatewayClient) RequestLoginCode(ctx context.Context, phone string) error {
	_, err := c.call(ctx, "/sendCode", gatewayRequest{Phone: phone})
	return err
}

func (c *gatewayClient) SignInWithCode(ctx context.Context, phone, code string) error {
	_, err := c.call(ctx, "/signIn", gatewayRequest{Phone: phone, Code: code})
	return err
}

func (c *gatewayClient) SignInWithPassword(ctx context.Context, password string) error {
	_, err := c.call(ctx, "/signIn", gatewayRequest{Password: password})
	return err
}

func (c *gatewayClient) ImportContacts(ctx context.Context, contacts []Contact) ([]ImportedUser, error) {
	resp, err := c.call(ctx, "/contacts/import", gatewayRequest{Contacts: contacts})
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *gatewayClient) ExportSession() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == "" {
		return "", fmt.Errorf("platform: no session established")
	}
	return c.session, nil
}

func (c *gatewayClient) Close() error {
	return nil
}

func (c *gatewayClient) call(ctx context.Context, path string, req gatewayRequest) (*gatewayResponse, error) {
	req.AppID = c.appID
	req.AppHash = c.appHash
	c.mu.Lock()
	req.Session = c.session
	c.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("platform: encode request: %w", err)
	}

	start := time.Now()
	resp, err := c.post(ctx, path, body)
	if err != nil {
		logger.Error(ctx, "platform", "call.fail",
			slog.String("path", path),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		if netutil.ShouldRetry(err) {
			return nil, &Error{Kind: KindUnavailable, Message: err.Error()}
		}
		return nil, &Error{Kind: KindOther, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: err.Error()}
	}

	var out gatewayResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Error{Kind: KindOther, Message: fmt.Sprintf("decode response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK || !out.OK {
		perr := &Error{Kind: kindFromCode(out.Error), Code: out.Error, Message: out.Message}
		if perr.Message == "" {
			perr.Message = out.Error
		}
		logger.Debug(ctx, "platform", "call.rejected",
			slog.String("path", path),
			slog.String("err_code", out.Error),
			slog.Int("http_code", resp.StatusCode),
		)
		return nil, perr
	}

	if out.Session != "" {
		c.mu.Lock()
		c.session = out.Session
		c.mu.Unlock()
	}

	logger.Debug(ctx, "platform", "call.ok",
		slog.String("path", path),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return &out, nil
}

func (c *gatewayClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	attempts := defaultRetryAttempts + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := retryBackoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}
