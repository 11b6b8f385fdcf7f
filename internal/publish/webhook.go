package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"postpilot/internal/retry"
)

// WebhookPublisher delivers posts by POSTing JSON to an HTTP endpoint, with a
// token obtained from a login endpoint. Useful for targets fronted by a
// bridge service (and for exercising the engine end-to-end against a local
// mock).
type WebhookPublisher struct {
	loginURL   string
	publishURL string
	httpClient *http.Client
}

func NewWebhookPublisher(loginURL, publishURL string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookPublisher{
		loginURL:   loginURL,
		publishURL: publishURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type publishRequest struct {
	ItemID string `json:"item_id"`
	Target string `json:"target"`
	Text   string `json:"text"`
	Image  string `json:"image,omitempty"`
	Video  string `json:"video,omitempty"`
}

type publishResponse struct {
	Ref string `json:"ref"`
}

// Login exchanges credentials for a bearer token; the token string is the
// session handle.
func (p *WebhookPublisher) Login(ctx context.Context, creds Credentials) (any, error) {
	if creds.Token != "" {
		// Pre-issued token; no login round-trip needed.
		return creds.Token, nil
	}
	body, err := json.Marshal(loginRequest{Username: creds.Username, Password: creds.Password})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if lr.Token == "" {
		return nil, retry.NewError(retry.KindAuthFailure, "login succeeded but no token returned")
	}
	return lr.Token, nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, handle any, req Request) (Receipt, error) {
	token, ok := handle.(string)
	if !ok || token == "" {
		return Receipt{}, retry.NewError(retry.KindAuthFailure, "webhook: session handle is not a token")
	}

	body, err := json.Marshal(publishRequest{
		ItemID: req.ItemID,
		Target: req.Target,
		Text:   req.Text,
		Image:  req.ImagePath,
		Video:  req.VideoPath,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal publish request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.publishURL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create publish request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(hreq)
	if err != nil {
		return Receipt{}, fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return Receipt{}, err
	}

	var pr publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return Receipt{}, fmt.Errorf("decode publish response: %w", err)
	}
	return Receipt{Ref: pr.Ref, PostedAt: time.Now()}, nil
}

// classifyStatus maps HTTP status codes the bridge can return to the retry
// taxonomy so classification does not depend on response text.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return retry.NewError(retry.KindAuthFailure, fmt.Sprintf("authentication rejected (status %d)", code))
	case code == http.StatusTooManyRequests:
		return retry.NewError(retry.KindRateLimited, "rate limit exceeded (status 429)")
	case code >= 500:
		return retry.NewError(retry.KindTransientNetwork, fmt.Sprintf("upstream unavailable (status %d)", code))
	default:
		return retry.NewError(retry.KindUnknown, fmt.Sprintf("unexpected status %d", code))
	}
}
