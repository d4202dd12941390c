package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

// HTTPSink posts the payload as request body, or appends it to the URL for GET.
type HTTPSink struct {
	name string
	template Template

	Method string
	URL string
	Headers map[string]string

	client *http.Client
}

func NewHTTPPostSink(name string, t Template, url string, headers map[string]string, timeout time.Duration) *HTTPSink {
	return newHTTPSink(name, t, http.MethodPost, url, headers, timeout)
}

func NewHTTPGetSink(name string, url string, headers map[string]string, timeout time.Duration) *HTTPSink {
	return newHTTPSink(name, TemplateHttpGet, http.MethodGet, url, headers, timeout)
}

func newHTTPSink(name string, t Template, method, url string, headers map[string]string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPSink{
		name: name,
		template: t,
		Method: method,
		URL: url,
		Headers: headers,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Name() string {
	return s.name
}

func (s *HTTPSink) Template() Template {
	return s.template
}

func (s *HTTPSink) newRequest(ctx context.Context, payload string) (*http.Request, error) {
	if s.Method == http.MethodGet {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.URL+payload, nil)
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, strings.NewReader(payload))

	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

func (s *HTTPSink) Send(ctx context.Context, payload string) Result {
	req, err := s.newRequest(ctx, payload)

	if err != nil {
		return Result{Err: fmt.Errorf("cannot build request: %w", err)}
	}

	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)

	if err != nil {
		return Result{Err: fmt.Errorf("request failed: %w", err)}
	}

	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Code: resp.StatusCode,
			Err: fmt.Errorf("unexpected status %q", resp.Status),
		}
	}

	return Result{Code: resp.StatusCode, Success: true}
}
