// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/go-a2a/a2a-core"
)

// AgentCardPath is the well-known path of the public agent card.
const AgentCardPath = "/.well-known/agent.json"

// CardResolver fetches agent cards.
type CardResolver struct {
	httpClient *http.Client
	baseURL    string
}

// NewCardResolver creates a resolver for the agent served at baseURL. A nil
// httpClient uses [http.DefaultClient].
func NewCardResolver(baseURL string, httpClient *http.Client) *CardResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CardResolver{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// AgentCard fetches the card at relativeCardPath, or at [AgentCardPath] when
// it is empty.
func (r *CardResolver) AgentCard(ctx context.Context, relativeCardPath string) (*a2a.AgentCard, error) {
	if relativeCardPath == "" {
		relativeCardPath = AgentCardPath
	}
	targetURL := r.baseURL + "/" + strings.TrimLeft(relativeCardPath, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newHTTPError(resp.StatusCode, body)
	}

	var card a2a.AgentCard
	if err := json.UnmarshalDecode(jsontext.NewDecoder(resp.Body), &card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	return &card, nil
}
