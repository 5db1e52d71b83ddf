// Package client is a Go client for the jsr77 management API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Client provides HTTP client functionality to communicate with the jsr77 daemon
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const defaultBaseURL = "http://127.0.0.1:8077/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client. A broken TLS setup is reported here
// rather than on the first request.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, fmt.Errorf("TLS setup failed: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		// The notification stream stays open; it ends with its context.
		stream: &http.Client{Transport: transport},
	}, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) url(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func nameQuery(name string, kv ...string) url.Values {
	q := url.Values{"name": {name}}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	return q
}

// do performs the request and decodes a 200 answer into out, if non-nil.
func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns a non-200 answer into an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return &APIError{Status: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Error}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Health(ctx)
	var ae *APIError
	// 503 while the domain starts still means someone is listening.
	return err == nil || errors.As(err, &ae) && ae.Status == http.StatusServiceUnavailable
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, c.url("/healthz", nil), nil, &h)
	return h, err
}

// Query returns the names registered under pattern; an empty pattern
// matches everything.
func (c *Client) Query(ctx context.Context, pattern string) ([]string, error) {
	var q url.Values
	if pattern != "" {
		q = url.Values{"pattern": {pattern}}
	}
	var names []string
	err := c.do(ctx, http.MethodGet, c.url("/objects", q), nil, &names)
	return names, err
}

func (c *Client) Object(ctx context.Context, name string) (Object, error) {
	var o Object
	err := c.do(ctx, http.MethodGet, c.url("/object", nameQuery(name)), nil, &o)
	return o, err
}

func (c *Client) Stats(ctx context.Context, name string) (Stats, error) {
	var s Stats
	err := c.do(ctx, http.MethodGet, c.url("/object/stats", nameQuery(name)), nil, &s)
	return s, err
}

// ChildCategories returns every child category of name with its members.
func (c *Client) ChildCategories(ctx context.Context, name string) (map[string][]string, error) {
	var m map[string][]string
	err := c.do(ctx, http.MethodGet, c.url("/object/children", nameQuery(name)), nil, &m)
	return m, err
}

// Children returns the members of one child category of name.
func (c *Client) Children(ctx context.Context, name, category string) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, c.url("/object/children", nameQuery(name, "category", category)), nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, name string) error {
	c.logger.Debug("Starting object", "name", name)
	return c.do(ctx, http.MethodPost, c.url("/object/start", nameQuery(name)), nil, nil)
}

func (c *Client) Stop(ctx context.Context, name string) error {
	c.logger.Debug("Stopping object", "name", name)
	return c.do(ctx, http.MethodPost, c.url("/object/stop", nameQuery(name)), nil, nil)
}

func (c *Client) StartRecursive(ctx context.Context, name string) error {
	c.logger.Debug("Starting object recursively", "name", name)
	return c.do(ctx, http.MethodPost, c.url("/object/start-recursive", nameQuery(name)), nil, nil)
}

// SetAttribute writes a writable attribute; value is sent as JSON.
func (c *Client) SetAttribute(ctx context.Context, name, attr string, value any) error {
	if value == nil {
		return errors.New("attribute value must not be nil")
	}
	return c.do(ctx, http.MethodPut, c.url("/attribute", nameQuery(name, "attr", attr)), value, nil)
}

func (c *Client) Deployments(ctx context.Context) ([]Deployment, error) {
	var out []Deployment
	err := c.do(ctx, http.MethodGet, c.url("/deployments", nil), nil, &out)
	return out, err
}

// Deploy asks the server to deploy the archive or directory at path, an
// absolute path on the server host.
func (c *Client) Deploy(ctx context.Context, path string) error {
	c.logger.Debug("Deploying", "path", path)
	return c.do(ctx, http.MethodPost, c.url("/deploy", url.Values{"path": {path}}), nil, nil)
}

func (c *Client) Undeploy(ctx context.Context, path string) error {
	c.logger.Debug("Undeploying", "path", path)
	return c.do(ctx, http.MethodPost, c.url("/undeploy", url.Values{"path": {path}}), nil, nil)
}

// Watch follows the notification stream until ctx is done or the server
// closes it, calling fn for every notification. ready, if non-nil, is
// called once with the domain name when the subscription is in place.
// Watch returns nil when ctx ends the stream.
func (c *Client) Watch(ctx context.Context, f WatchFilter, ready func(domain string), fn func(Notification)) error {
	q := url.Values{}
	if len(f.Types) > 0 {
		q.Set("type", strings.Join(f.Types, ","))
	}
	if f.Pattern != "" {
		q.Set("pattern", f.Pattern)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/notifications", q), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	err = readEvents(resp.Body, func(name, data string) error {
		if name == "ready" {
			if ready != nil {
				ready(data)
			}
			return nil
		}
		n, err := decodeNotification(data)
		if err != nil {
			c.logger.Warn("Skipping undecodable notification", "event", name, "error", err)
			return nil
		}
		fn(n)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents splits a server-sent event stream into (event, data) pairs.
func readEvents(r io.Reader, emit func(name, data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var name string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 || name != "" {
				if err := emit(name, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			name, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}

func decodeNotification(data string) (Notification, error) {
	ev := cloudevents.NewEvent()
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return Notification{}, err
	}
	n := Notification{
		ID:     ev.ID(),
		Type:   ev.Type(),
		Source: ev.Source(),
		Time:   ev.Time(),
	}
	if v, ok := ev.Extensions()["j2eetype"]; ok {
		n.J2EEType = fmt.Sprint(v)
	}
	var body struct {
		Sequence  int64            `json:"sequence"`
		Message   string           `json:"message"`
		Attribute *AttributeChange `json:"attribute"`
	}
	if raw := ev.Data(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return Notification{}, fmt.Errorf("decode notification data: %w", err)
		}
	}
	n.Sequence, n.Message, n.Attribute = body.Sequence, body.Message, body.Attribute
	return n, nil
}
