package analyst

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/pkg/anthropic"
)

// usageBook accumulates token usage per model. One book is shared by every
// caller derived from the same root, so a run's accounting stays in one
// place no matter how many model tiers it spans.
type usageBook struct {
	mu      sync.Mutex
	byModel map[string]model.TokenUsage
}

func (b *usageBook) add(modelName string, u model.TokenUsage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := b.byModel[modelName]
	entry.Add(u)
	b.byModel[modelName] = entry
}

// Caller executes LLM calls for every agent in the pipeline and accumulates
// token usage across them. Safe for concurrent use.
type Caller struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	book      *usageBook
}

// NewCaller creates a Caller bound to one model.
func NewCaller(client anthropic.Client, modelName string) *Caller {
	return &Caller{
		client:    client,
		model:     modelName,
		maxTokens: 2048,
		book:      &usageBook{byModel: make(map[string]model.TokenUsage)},
	}
}

// WithModel returns a caller bound to a different model that shares this
// caller's usage ledger.
func (c *Caller) WithModel(modelName string) *Caller {
	return &Caller{
		client:    c.client,
		model:     modelName,
		maxTokens: c.maxTokens,
		book:      c.book,
	}
}

// Usage returns the tokens accumulated so far across every model tier.
func (c *Caller) Usage() model.TokenUsage {
	c.book.mu.Lock()
	defer c.book.mu.Unlock()
	var total model.TokenUsage
	for _, u := range c.book.byModel {
		total.Add(u)
	}
	return total
}

// UsageByModel returns a copy of the per-model usage breakdown.
func (c *Caller) UsageByModel() map[string]model.TokenUsage {
	c.book.mu.Lock()
	defer c.book.mu.Unlock()
	out := make(map[string]model.TokenUsage, len(c.book.byModel))
	for m, u := range c.book.byModel {
		out[m] = u
	}
	return out
}

func (c *Caller) record(u anthropic.TokenUsage) {
	c.book.add(c.model, model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
	})
}

// Complete sends one system+user exchange and returns the raw text reply.
// System prompts are sent with a cache breakpoint so repeated calls within
// a run reuse the cached prefix.
func (c *Caller) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(system),
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}
	c.record(resp.Usage)

	text := resp.Text()
	if text == "" {
		return "", eris.New("analyst: model returned no text content")
	}
	return text, nil
}

// Warm writes a system prompt into the prompt cache with a minimal request.
// The reply is discarded; only the cache entry and the token usage matter.
func (c *Caller) Warm(ctx context.Context, system string) error {
	resp, err := anthropic.WarmCache(ctx, c.client, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 1,
		System:    anthropic.BuildCachedSystemBlocks(system),
		Messages:  []anthropic.Message{{Role: "user", Content: "ready"}},
	})
	if err != nil {
		return err
	}
	c.record(resp.Usage)
	return nil
}

// CallAnalyst runs one bench analyst against one symbol: format, complete,
// parse. A parse failure surfaces as an error so the executor retries the
// whole call.
func (c *Caller) CallAnalyst(ctx context.Context, a Analyst, sc SymbolContext) (model.WorkReport, error) {
	raw, err := c.Complete(ctx, a.SystemPrompt(), a.FormatContext(sc))
	if err != nil {
		return model.WorkReport{}, err
	}

	report, err := a.Parse(raw)
	if err != nil {
		return model.WorkReport{}, eris.Wrap(err, "analyst: parse "+a.Name())
	}
	report.Symbol = sc.Symbol
	return report, nil
}
