package provider

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/bibcat/internal/genai"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/resilience"
)

type fakeAI struct {
	calls int32
	reply func(req genai.MessageRequest) (*genai.MessageResponse, error)
}

func (f *fakeAI) CreateMessage(_ context.Context, req genai.MessageRequest) (*genai.MessageResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.reply(req)
}

func textReply(text string) func(genai.MessageRequest) (*genai.MessageResponse, error) {
	return func(genai.MessageRequest) (*genai.MessageResponse, error) {
		return &genai.MessageResponse{
			Model:   "test-model",
			Content: []genai.ContentBlock{{Type: "text", Text: text}},
		}, nil
	}
}

func TestGenerativeResearch_EmitsDescriptionAndPrice(t *testing.T) {
	ai := &fakeAI{reply: textReply("```json\n{\"description\": \"A hobbit leaves home.\", \"price\": \"14.99\"}\n```")}
	g := NewGenerativeResearch(ai, newTestCache(), noRetry, "test-model")

	item := model.Item{Barcode: "B000001", Title: "The Hobbit", Author: "Tolkien, J.R.R."}
	facts, err := g.Lookup(context.Background(), item)
	require.NoError(t, err)

	byField := testFacts(facts)
	desc := byField[model.FieldDescription]
	assert.Equal(t, "A hobbit leaves home.", desc.Value)
	assert.Equal(t, model.SourceGenerativeResearch, desc.Source)
	assert.Equal(t, researchDescriptionConfidence, desc.Confidence)
	assert.Equal(t, model.MatchFuzzySearch, desc.Method)

	price := byField[model.FieldPrice]
	assert.Equal(t, "14.99", price.Value)
	assert.Equal(t, researchPriceConfidence, price.Confidence)
}

func TestGenerativeResearch_SecondLookupHitsCache(t *testing.T) {
	ai := &fakeAI{reply: textReply(`{"description": "d", "price": "9.99"}`)}
	g := NewGenerativeResearch(ai, newTestCache(), noRetry, "test-model")

	item := model.Item{Barcode: "B000001", Title: "Dune", Author: "Herbert, Frank"}
	_, err := g.Lookup(context.Background(), item)
	require.NoError(t, err)
	facts, err := g.Lookup(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&ai.calls))
	assert.Equal(t, "9.99", testFacts(facts)[model.FieldPrice].Value)
}

func TestGenerativeResearch_UnparseableAnswerNotCached(t *testing.T) {
	ai := &fakeAI{reply: textReply("I cannot help with that.")}
	g := NewGenerativeResearch(ai, newTestCache(), noRetry, "test-model")

	item := model.Item{Barcode: "B000001", Title: "Dune"}
	_, err := g.Lookup(context.Background(), item)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))

	_, err = g.Lookup(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ai.calls))
}

func TestGenerativeResearch_NoTitleNoISBN(t *testing.T) {
	ai := &fakeAI{reply: textReply(`{}`)}
	g := NewGenerativeResearch(ai, newTestCache(), noRetry, "test-model")

	facts, err := g.Lookup(context.Background(), model.Item{Barcode: "B000001"})
	require.NoError(t, err)
	assert.Nil(t, facts)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ai.calls))
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{`Here you go: {"a": 1} hope that helps`, `{"a": 1}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractJSONObject(tt.in), "extractJSONObject(%q)", tt.in)
	}
}
