package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint set to a 1-hour TTL. Analyst system prompts are static for the
// life of a run, so the deep-dive fan-out sends one warmup request per
// analyst and every subsequent symbol hits the warm cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}

// WarmCache sends a single message to populate the prompt cache. The
// request should include system blocks built with BuildCachedSystemBlocks.
func WarmCache(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: cache warmup")
	}
	return resp, nil
}
