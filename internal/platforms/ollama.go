package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

type OllamaPlatform struct {
	client *api.Client
	model  string
}

func NewOllamaPlatform(model, host string) (*OllamaPlatform, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama platform: model is required")
	}

	var client *api.Client
	if host != "" {
		base, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("ollama platform: invalid host %s: %w", host, err)
		}
		client = api.NewClient(base, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &OllamaPlatform{
		client: client,
		model:  model,
	}, nil
}

func (o *OllamaPlatform) Name() string { return "ollama/" + o.model }

func (o *OllamaPlatform) Client() *api.Client { return o.client }

func (o *OllamaPlatform) Complete(ctx context.Context, system, prompt string, jsonMode bool) (string, int64, error) {
	req := &api.GenerateRequest{
		Model:  o.model,
		System: system,
		Prompt: prompt,
		Stream: new(bool),
	}
	if jsonMode {
		req.Format = json.RawMessage(`"json"`)
	}

	var out strings.Builder
	var tokens int64

	respFunc := func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		if resp.Done {
			tokens = int64(resp.PromptEvalCount + resp.EvalCount)
		}
		return nil
	}

	if err := o.client.Generate(ctx, req, respFunc); err != nil {
		return "", 0, fmt.Errorf("ollama generate failed: %w", err)
	}

	text := out.String()
	if tokens == 0 {
		tokens = estimateTokens(system, prompt, text)
	}

	return text, tokens, nil
}
