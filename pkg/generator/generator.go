// Package generator is the orchestrator-side contract with the external
// prompt-to-code model gateway, plus validation of the file sets it
// returns.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/types"
)

// Generator produces a filename→content map for a prompt and model. The
// call blocks, may take minutes, and must honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, prompt string, provider types.Provider, model string) (map[string]string, error)
}

// GatewayClient talks HTTP to the code-generation gateway. The credential
// is opaque to the orchestrator.
type GatewayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGatewayClient creates a client for the gateway at baseURL. No client
// timeout is set; generation has no orchestrator-imposed deadline and is
// bounded by the per-run context instead.
func NewGatewayClient(baseURL, apiKey string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type generateResponse struct {
	Files map[string]string `json:"files"`
	Error string            `json:"error,omitempty"`
}

// Generate POSTs the prompt to the gateway and returns the generated file
// map. Duplicate filenames in the response collapse with last-wins map
// semantics during decoding.
func (g *GatewayClient) Generate(ctx context.Context, prompt string, provider types.Provider, model string) (map[string]string, error) {
	body, err := json.Marshal(generateRequest{
		Prompt:   prompt,
		Provider: string(provider),
		Model:    model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", errdefs.ErrGeneration, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", errdefs.ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: gateway call failed: %v", errdefs.ErrGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: gateway returned %d: %s", errdefs.ErrGeneration, resp.StatusCode, tail)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", errdefs.ErrGeneration, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrGeneration, out.Error)
	}
	return out.Files, nil
}

// Static is a canned Generator for tests and dry runs.
type Static struct {
	Files map[string]string
	Err   error
}

func (s Static) Generate(ctx context.Context, prompt string, provider types.Provider, model string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Files, nil
}
