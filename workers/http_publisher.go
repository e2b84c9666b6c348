package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const registrationEventsPath = "/api/v1/registrations/events"

// HTTPPublisher posts registration events to the sync service.
type HTTPPublisher struct {
	endpoint     string
	serviceToken string
	httpClient   *http.Client
}

// NewHTTPPublisher validates the base URL once; the per-push deadline comes
// from the caller's context.
func NewHTTPPublisher(syncServiceBaseURL, serviceToken string) (*HTTPPublisher, error) {
	base, err := url.Parse(syncServiceBaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid sync service URL %q", syncServiceBaseURL)
	}
	return &HTTPPublisher{
		endpoint:     base.JoinPath(registrationEventsPath).String(),
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (p *HTTPPublisher) Publish(ctx context.Context, event RegistrationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", p.endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", p.serviceToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", p.endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if readErr != nil {
			zap.L().Warn("⚠️ [SYNC] failed to read error body", zap.String("url", p.endpoint), zap.Error(readErr))
		}
		return fmt.Errorf("sync service returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
