// Package httpclient is the outbound transport used by the transcription
// provider adapters. It layers auth schemes, multipart encoding, and error
// classification on top of net/http.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skillsenselab/scribe/errors"
)

// Config configures a Client.
type Config struct {
	// BaseURL is prepended to request paths. Optional.
	BaseURL string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Headers are sent with every request.
	Headers map[string]string
	// Auth is the default authentication applied to every request.
	Auth *AuthConfig
}

// DefaultTimeout bounds a single request round trip.
const DefaultTimeout = 120 * time.Second

// Client is a configurable HTTP client for provider wire protocols.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
	}
}

// Do executes an HTTP request. Transport-level failures return a NETWORK
// error; non-2xx responses return the response alongside a REMOTE_REJECTION
// error carrying the remote-provided message.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Network(req.Method+" "+req.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Network("read response body", err)
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       body,
	}

	if !result.IsSuccess() {
		return result, errors.RemoteRejection(resp.StatusCode, remoteMessage(resp.StatusCode, body))
	}
	return result, nil
}

// buildRequest constructs the underlying *http.Request.
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := req.Path
	if c.config.BaseURL != "" && !strings.HasPrefix(req.Path, "http://") && !strings.HasPrefix(req.Path, "https://") {
		url = strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "encode request body: "+err.Error()).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "build request: "+err.Error()).WithCause(err)
	}

	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	auth := req.Auth
	if auth == nil {
		auth = c.config.Auth
	}
	auth.apply(httpReq)

	return httpReq, nil
}

// encodeBody converts the request body to a reader plus content type.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *MultipartBody:
		return b.encode()
	case io.Reader:
		return b, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("marshal JSON body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// remoteMessage extracts the provider error message from a structured body,
// falling back to the raw body or status text.
func remoteMessage(statusCode int, body []byte) string {
	var structured struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Error.Message != "" {
			return structured.Error.Message
		}
		if structured.Message != "" {
			return structured.Message
		}
	}
	if len(body) > 0 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return msg
	}
	return http.StatusText(statusCode)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
