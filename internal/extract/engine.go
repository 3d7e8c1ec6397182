// Package extract runs the two pass analysis over raw newsletter
// content: a free form analysis pass followed by a JSON structuring
// pass over the analysis.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gazeta/internal/artifacts"
	"gazeta/internal/content"
	"gazeta/internal/platforms"
	"gazeta/internal/types"
)

const defaultMaxChars = 60000

// LLMFactory builds a provider client for a profile. Tests swap it out.
type LLMFactory func(ctx context.Context, profile types.Profile) (platforms.LLM, error)

type Engine struct {
	artifacts *artifacts.Store
	factory   LLMFactory
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]platforms.LLM
}

// storedExtraction is the artifact layout for a persisted result.
type storedExtraction struct {
	Result    *types.ExtractionResult `json:"result"`
	Reasoning string                  `json:"reasoning,omitempty"`
	Model     string                  `json:"model"`
	CostUnits int64                   `json:"cost_units"`
}

func NewEngine(store *artifacts.Store, factory LLMFactory, logger *slog.Logger) *Engine {
	if factory == nil {
		factory = platforms.NewLLM
	}
	return &Engine{
		artifacts: store,
		factory:   factory,
		logger:    logger,
		clients:   make(map[string]platforms.LLM),
	}
}

func (e *Engine) Extract(ctx context.Context, raw *types.RawContent, profile types.Profile) (*types.Extraction, error) {
	llm, err := e.client(ctx, profile)
	if err != nil {
		return nil, err
	}

	maxChars := profile.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	text := content.Truncate(raw.Text, maxChars)
	if text == "" {
		return nil, fmt.Errorf("item %s has no analyzable text", raw.ItemKey)
	}

	reasoning, analysisTokens, err := llm.Complete(ctx, analysisSystem(profile), analysisPrompt(raw, text, profile), false)
	if err != nil {
		return nil, fmt.Errorf("analysis pass failed for %s: %w", raw.ItemKey, err)
	}

	structured, structureTokens, err := llm.Complete(ctx, structureSystem(profile), structurePrompt(reasoning), true)
	if err != nil {
		return nil, fmt.Errorf("structuring pass failed for %s: %w", raw.ItemKey, err)
	}

	result, err := parseResult(structured)
	if err != nil {
		return nil, fmt.Errorf("bad structured output for %s: %w", raw.ItemKey, err)
	}

	extraction := &types.Extraction{
		Result:    result,
		Reasoning: reasoning,
		Model:     llm.Name(),
		CostUnits: analysisTokens + structureTokens,
	}

	ref, err := e.artifacts.SaveExtraction(raw.ItemKey, storedExtraction{
		Result:    extraction.Result,
		Reasoning: extraction.Reasoning,
		Model:     extraction.Model,
		CostUnits: extraction.CostUnits,
	})
	if err != nil {
		return nil, err
	}
	extraction.ResultRef = ref

	e.logger.Debug("extracted item",
		"item", raw.ItemKey,
		"model", extraction.Model,
		"stories", len(result.Stories),
		"cost_units", extraction.CostUnits)

	return extraction, nil
}

func (e *Engine) LoadResult(ctx context.Context, ref string) (*types.Extraction, error) {
	var stored storedExtraction
	if err := e.artifacts.LoadExtraction(ref, &stored); err != nil {
		return nil, err
	}
	if stored.Result == nil {
		return nil, fmt.Errorf("extraction artifact %s has no result", ref)
	}

	return &types.Extraction{
		Result:    stored.Result,
		Reasoning: stored.Reasoning,
		ResultRef: ref,
		Model:     stored.Model,
		CostUnits: stored.CostUnits,
	}, nil
}

// client caches provider clients per profile so repeated items reuse
// one connection.
func (e *Engine) client(ctx context.Context, profile types.Profile) (platforms.LLM, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if llm, ok := e.clients[profile.Name]; ok {
		return llm, nil
	}

	llm, err := e.factory(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm for profile %s: %w", profile.Name, err)
	}
	e.clients[profile.Name] = llm

	return llm, nil
}
