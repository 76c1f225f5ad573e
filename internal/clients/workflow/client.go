// Package workflow invokes the external automation system that carries out
// scheduled downloads. Only the webhook's request/response contract lives
// here; what happens on the other side is out of our hands.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navhub/internal/domain"
)

const defaultTimeout = 30 * time.Second

// TriggerSource distinguishes scheduled fires from user-initiated ones.
type TriggerSource string

const (
	SourceScheduled TriggerSource = "scheduled"
	SourceManual    TriggerSource = "manual"
)

// TriggerRequest is the webhook payload.
type TriggerRequest struct {
	TenantID          string        `json:"tenant_id"`
	UserID            string        `json:"user_id"`
	IsLive            bool          `json:"is_live"`
	ScheduleType      string        `json:"schedule_type"`
	TriggerSource     TriggerSource `json:"trigger_source"`
	APICallbackURL    string        `json:"api_callback_url"`
	SchedulerConfigID string        `json:"scheduler_config_id"`
}

type triggerResponse struct {
	ExecutionID string `json:"executionId"`
}

// Client posts trigger requests to a per-tenant webhook URL.
type Client struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With().Str("component", "workflow_client").Logger(),
	}
}

// Trigger invokes the webhook and returns the external execution id.
// A non-2xx status or a response without an execution id is a failure.
func (c *Client) Trigger(ctx context.Context, webhookURL string, req TriggerRequest) (string, error) {
	if webhookURL == "" {
		return "", &domain.ValidationError{Field: "webhook_url", Message: "webhook URL is not configured"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode trigger payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create trigger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &domain.ExternalFetchError{
			Source:  "workflow",
			Message: fmt.Sprintf("webhook call failed: %v", err),
			Elapsed: time.Since(began),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &domain.ExternalFetchError{
			Source:  "workflow",
			Message: fmt.Sprintf("failed to read webhook response: %v", err),
			Elapsed: time.Since(began),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.ExternalFetchError{
			Source:  "workflow",
			Message: fmt.Sprintf("webhook returned status %d", resp.StatusCode),
			Elapsed: time.Since(began),
		}
	}

	var parsed triggerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ExecutionID == "" {
		return "", &domain.ExternalFetchError{
			Source:  "workflow",
			Message: "webhook response did not include an execution id",
			Elapsed: time.Since(began),
		}
	}

	c.log.Info().
		Str("tenant_id", req.TenantID).
		Str("execution_id", parsed.ExecutionID).
		Str("trigger_source", string(req.TriggerSource)).
		Dur("elapsed", time.Since(began)).
		Msg("Workflow triggered")

	return parsed.ExecutionID, nil
}
