// Package httpclient sends the outbound provider calls made by notification
// dispatchers. Calls are single-shot: there is no retry.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultTimeout applies when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// Request represents an HTTP request
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	ContentType string
	BasicAuth   *BasicAuth
}

// BasicAuth holds HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Client interface for making HTTP requests
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// DefaultClient implements the Client interface
type DefaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a client with the given timeout.
func NewDefaultClient(timeout time.Duration) *DefaultClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DefaultClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Send makes an HTTP request and returns the response.
// Non-2xx responses return an *Error carrying the status and body.
func (c *DefaultClient) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, errors.WithHint(errors.Mark(errors.New("request URL is required"), ErrHTTPClient),
			"Please check the provider endpoint configuration")
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.WithHint(errors.Mark(errors.Wrap(err, "failed to build request"), ErrHTTPClient),
			"Please check the request payload")
	}

	if req.Body != nil {
		httpReq.ContentLength = int64(len(req.Body))
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, errors.Mark(errors.Wrapf(err, "%s %s", method, redact(req.URL)), ErrHTTPClient)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read response body"), ErrHTTPClient)
	}

	headers := make(map[string]string)
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewError(resp.StatusCode, respBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    headers,
	}, nil
}

// redact strips the query string, which can carry webhook secrets.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
