package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaykit/hubsink/pkg/logger"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPClient interface for making HTTP requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultHTTPClient is the default implementation of HTTPClient
type defaultHTTPClient struct {
	client *http.Client
}

func newDefaultHTTPClient(timeout time.Duration) *defaultHTTPClient {
	transport := &http.Transport{
		MaxIdleConns:      10,
		IdleConnTimeout:   30 * time.Second,
		DisableKeepAlives: false,
	}

	return &defaultHTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

func (c *defaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// HTTPConfig holds the connection settings for the HTTP hub transport.
type HTTPConfig struct {
	// Endpoint is the scheme and host of the hub namespace, e.g.
	// "https://ns.hub.example.net".
	Endpoint string

	// Hub is the name of the hub stream to publish to.
	Hub string

	// Publisher is the publisher identity entries are sent under.
	Publisher string

	// Token is the credential attached to every request.
	Token string

	// RequestTimeout bounds one send including the response. Defaults to 30s.
	RequestTimeout time.Duration
}

func (c HTTPConfig) validate() error {
	if c.Endpoint == "" {
		return errors.New("hub endpoint must not be empty")
	}
	if c.Hub == "" {
		return errors.New("hub name must not be empty")
	}
	if c.Publisher == "" {
		return errors.New("publisher identity must not be empty")
	}
	if c.Token == "" {
		return errors.New("credential token must not be empty")
	}
	return nil
}

// HTTPSender posts batch bodies to the hub's publisher messages resource.
type HTTPSender struct {
	url    string
	token  string
	client HTTPClient
	logger *zap.SugaredLogger
}

// HTTPOption configures an HTTPSender.
type HTTPOption func(*HTTPSender)

// WithHTTPClient replaces the HTTP client, for testing.
func WithHTTPClient(client HTTPClient) HTTPOption {
	return func(s *HTTPSender) {
		s.client = client
	}
}

// NewHTTPSender creates a sender for the hub's REST surface. It fails fast
// when the endpoint, hub name, publisher identity or credential is missing.
func NewHTTPSender(cfg HTTPConfig, opts ...HTTPOption) (*HTTPSender, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid hub transport config: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	sender := &HTTPSender{
		url: fmt.Sprintf("%s/%s/publishers/%s/messages",
			strings.TrimRight(cfg.Endpoint, "/"), cfg.Hub, cfg.Publisher),
		token:  cfg.Token,
		client: newDefaultHTTPClient(timeout),
		logger: logger.For(logger.ComponentTransport),
	}

	for _, opt := range opts {
		opt(sender)
	}

	return sender, nil
}

// URL returns the resolved messages resource URL.
func (s *HTTPSender) URL() string {
	return s.url
}

// Send posts body to the messages resource. A non-2xx response is returned
// as a StatusError with the beginning of the response body as reason.
func (s *HTTPSender) Send(ctx context.Context, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build hub request: %w", err)
	}
	req.Header.Set("Authorization", s.token)
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("hub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(reason))}
	}

	// Drain the rest so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debugf("Delivered %d bytes to %s", len(body), s.url)
	return nil
}

// Close implements Sender. The pooled HTTP connections close with the process.
func (s *HTTPSender) Close() error {
	return nil
}
