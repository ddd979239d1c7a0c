package out

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sosguard/internal/modules/session/domain"
	sessionout "sosguard/internal/modules/session/port/out"
	apperrors "sosguard/internal/platform/errors"
)

const maxErrorBody = 4 << 10

// HTTPError is a non-2xx answer from the dispatch server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dispatch server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("dispatch server returned %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return apperrors.ErrNotFound
	}
	return nil
}

type HTTPDispatchAPI struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPDispatchAPI(baseURL string, timeout time.Duration) sessionout.DispatchAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewHTTPDispatchAPIWithClient(baseURL, &http.Client{Timeout: timeout})
}

func NewHTTPDispatchAPIWithClient(baseURL string, client *http.Client) sessionout.DispatchAPI {
	return &HTTPDispatchAPI{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

func (a *HTTPDispatchAPI) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return a.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (a *HTTPDispatchAPI) CreateSession(ctx context.Context, req domain.CreateRequest) (domain.Session, error) {
	headers := http.Header{}
	if req.IdempotencyKey != "" {
		headers.Set("Idempotency-Key", req.IdempotencyKey)
	}
	return a.do(ctx, http.MethodPost, "/v1/sessions", req, headers)
}

func (a *HTTPDispatchAPI) AcceptSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return a.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/accept", nil, nil)
}

func (a *HTTPDispatchAPI) MarkArrived(ctx context.Context, sessionID string) (domain.Session, error) {
	return a.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/arrived", nil, nil)
}

func (a *HTTPDispatchAPI) CompleteSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return a.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/complete", nil, nil)
}

func (a *HTTPDispatchAPI) do(ctx context.Context, method, path string, body any, headers http.Header) (domain.Session, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domain.Session{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.Session{}, fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.Session{}, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	session := domain.Session{}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}
