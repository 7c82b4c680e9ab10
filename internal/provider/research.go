package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openshelf/bibcat/internal/cache"
	"github.com/openshelf/bibcat/internal/genai"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/resilience"
)

const (
	researchMaxTokens = 1024

	// Generated answers sit below every registry value: the confidence gap
	// plus the bottom reliability tier means a model's guess only wins a
	// field nobody else asserts.
	researchDescriptionConfidence = 0.5
	researchPriceConfidence       = 0.35
)

const researchSystemPrompt = "You research books for a small library catalog. " +
	"Base answers on verifiable bibliographic knowledge, never invention, " +
	"and respond with a single JSON object and nothing else."

// GenerativeResearch asks a language model for the narrative fields the
// bibliographic registries rarely carry: a patron-facing description and an
// estimated replacement price. Answers flow through the same cache, retry,
// and circuit-breaker pipeline as the registry adapters, and only answers
// that parse are cached.
type GenerativeResearch struct {
	client
	ai    genai.Client
	model string
}

// NewGenerativeResearch creates the research adapter over an Anthropic
// client.
func NewGenerativeResearch(ai genai.Client, c *cache.Cache, retry resilience.RetryConfig, modelID string) *GenerativeResearch {
	return &GenerativeResearch{
		client: client{
			cache:   c,
			retry:   retry,
			breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
			now:     time.Now,
		},
		ai:    ai,
		model: modelID,
	}
}

func (g *GenerativeResearch) Source() model.Source {
	return model.SourceGenerativeResearch
}

// researchAnswer is the JSON object the prompt demands.
type researchAnswer struct {
	Description string `json:"description"`
	Price       string `json:"price"`
}

func (g *GenerativeResearch) Lookup(ctx context.Context, item model.Item) ([]model.Fact, error) {
	if item.Title == "" && item.ISBN == "" {
		return nil, nil
	}

	payload, err := g.research(ctx, item)
	if err != nil {
		return nil, err
	}

	var answer researchAnswer
	if err := json.Unmarshal(payload, &answer); err != nil {
		return nil, eris.Wrap(err, "generative research: decode cached answer")
	}

	itemID := item.Barcode
	return []model.Fact{
		g.fact(g.Source(), itemID, model.FieldDescription, strings.TrimSpace(answer.Description), researchDescriptionConfidence, model.MatchFuzzySearch),
		g.fact(g.Source(), itemID, model.FieldPrice, strings.TrimSpace(answer.Price), researchPriceConfidence, model.MatchFuzzySearch),
	}, nil
}

// research resolves one model invocation through cache, retry, and the
// breaker. The answer is validated inside the breaker closure so an
// unparseable response is never written to the cache.
func (g *GenerativeResearch) research(ctx context.Context, item model.Item) ([]byte, error) {
	fp := cache.Fingerprint(string(g.Source()), "grounded_research", item.Title, item.Author, item.ISBN)
	cfg := g.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(string(g.Source()), "grounded_research")
	}
	prompt := researchPrompt(item)

	payload, _, err := g.cache.Through(ctx, fp, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
			return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]byte, error) {
				resp, err := g.ai.CreateMessage(ctx, genai.MessageRequest{
					Model:     g.model,
					MaxTokens: researchMaxTokens,
					System:    researchSystemPrompt,
					Messages:  []genai.Message{{Role: "user", Content: prompt}},
				})
				if err != nil {
					return nil, err
				}
				resp.Usage.Log(resp.Model, "grounded_research")

				cleaned := extractJSONObject(resp.Text())
				var answer researchAnswer
				if err := json.Unmarshal([]byte(cleaned), &answer); err != nil {
					return nil, resilience.NewPermanentError(
						eris.Wrap(err, "generative research: unparseable answer"), 0)
				}
				return []byte(cleaned), nil
			})
		})
	})
	return payload, err
}

func researchPrompt(item model.Item) string {
	return fmt.Sprintf(`Research the following book.

Title: %s
Author: %s
ISBN: %s

Respond with exactly one JSON object:
{"description": "<two to three engaging sentences for a library catalog>", "price": "<estimated replacement price in USD, e.g. 14.99>"}

Leave a field empty rather than guessing.`, item.Title, item.Author, item.ISBN)
}

// extractJSONObject pulls a JSON object out of a response that may wrap it
// in markdown code fences or surrounding prose.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
