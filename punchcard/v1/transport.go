package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"punchcard.com/punchcard/punchcard/v1/common"
)

var (
	// ErrThrottled means the guard refused the call; nothing was sent.
	ErrThrottled = errors.New("request throttled")
	// ErrUnreachable wraps transport failures where no response arrived.
	ErrUnreachable = errors.New("server unreachable")
)

// Guard decides whether a call to an endpoint may start. A true TryBegin
// must be paired with End.
type Guard interface {
	TryBegin(endpoint string) bool
	End(endpoint string)
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed with status code %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type Response struct {
	StatusCode int
	Data       []byte
}

// Transport handles low-level HTTP and authentication
type Transport struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Guard      Guard
}

// NewTransport creates a transport with base URL and auth
func NewTransport(baseURL, token string, timeout time.Duration) *Transport {
	return &Transport{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		AuthToken:  token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// helper: build full URL with query params
func (t *Transport) buildURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(t.BaseURL + path)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (t *Transport) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return t.do(ctx, http.MethodGet, path, query, nil)
}

// Post sends a POST request with JSON body
func (t *Transport) Post(ctx context.Context, path string, data any) (*Response, error) {
	return t.do(ctx, http.MethodPost, path, nil, data)
}

func (t *Transport) Put(ctx context.Context, path string, data any) (*Response, error) {
	return t.do(ctx, http.MethodPut, path, nil, data)
}

func (t *Transport) do(ctx context.Context, method, path string, query url.Values, data any) (*Response, error) {
	if t.Guard != nil {
		if !t.Guard.TryBegin(path) {
			return nil, fmt.Errorf("%w: %s %s", ErrThrottled, method, path)
		}
		defer t.Guard.End(path)
	}

	fullURL, err := t.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if t.AuthToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.AuthToken))
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	resdata, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, path, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    http.StatusText(resp.StatusCode),
		}
		var eb common.ErrorBody
		if json.Unmarshal(resdata, &eb) == nil && eb.Message != "" {
			apiErr.Message = eb.Message
			apiErr.Data = eb.Data
		}
		return nil, apiErr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Data:       resdata,
	}, nil
}

func decode[T any](resp *Response) (T, error) {
	var env common.Envelope[T]
	if err := json.Unmarshal(resp.Data, &env); err != nil {
		var zero T
		return zero, fmt.Errorf("decode response: %w", err)
	}
	return env.Data, nil
}
