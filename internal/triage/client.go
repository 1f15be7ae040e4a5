// Package triage calls the external AI triage endpoint. Payloads are
// opaque to us: symptoms in, a summary and a suggested specialty out.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client produces a triage assessment for a symptom description.
type Client interface {
	Assess(ctx context.Context, symptoms string) (*Assessment, error)
}

// Assessment is the triage endpoint's verdict.
type Assessment struct {
	Summary   string `json:"summary"`
	Specialty string `json:"specialty"`
	Urgency   string `json:"urgency,omitempty"`
}

// HTTPClient talks to the triage service over HTTP with a bounded timeout.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a triage client for the given endpoint.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type assessRequest struct {
	Symptoms string `json:"symptoms"`
}

// Assess submits symptoms and returns the triage assessment.
func (c *HTTPClient) Assess(ctx context.Context, symptoms string) (*Assessment, error) {
	body, err := json.Marshal(assessRequest{Symptoms: symptoms})
	if err != nil {
		return nil, fmt.Errorf("failed to encode triage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/triage", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build triage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("triage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("triage endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var assessment Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, fmt.Errorf("failed to decode triage response: %w", err)
	}
	if assessment.Summary == "" {
		return nil, fmt.Errorf("triage endpoint returned an empty assessment")
	}

	return &assessment, nil
}
