package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-engine/internal/analyst"
	"github.com/sells-group/insight-engine/internal/cost"
	"github.com/sells-group/insight-engine/internal/engine"
	"github.com/sells-group/insight-engine/internal/market"
	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/internal/store"
	anthropicpkg "github.com/sells-group/insight-engine/pkg/anthropic"
	"github.com/sells-group/insight-engine/pkg/notion"
	"github.com/sells-group/insight-engine/pkg/yahoo"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "insight-engine.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// notionPublisher adapts digest publishing to the engine's publisher hook.
type notionPublisher struct {
	client notion.Client
	parent string
}

func (p *notionPublisher) Publish(ctx context.Context, result *model.RunResult) (string, error) {
	return notion.PublishDigest(ctx, p.client, p.parent, result)
}

// buildEngine wires every collaborator of the discovery engine from config.
func buildEngine(st store.Store) *engine.Engine {
	yahooClient := yahoo.NewClient(
		yahoo.WithBaseURL(cfg.Yahoo.BaseURL),
		yahoo.WithRateLimit(cfg.Yahoo.RequestsPerSec),
	)

	universe := market.NewUniverseBuilder(
		market.WithOverrideFile(cfg.Market.UniverseFile),
		market.WithUniverseLimit(cfg.Market.UniverseLimit),
		market.WithCacheTTL(time.Duration(cfg.Market.CacheTTLMins)*time.Minute),
	)
	primary := market.NewHeatmapFetcher(yahooClient, universe,
		market.WithFetchConcurrency(cfg.Engine.FetchConcurrency))
	fallback := market.NewLegacyFetcher(yahooClient)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	// Three model tiers sharing one usage ledger: haiku screens sectors and
	// symbols on the fallback branch, opus writes the final synthesis, and
	// sonnet handles everything in between, the analyst bench included.
	sonnet := analyst.NewCaller(anthropicClient, cfg.Anthropic.SonnetModel)
	haiku := sonnet.WithModel(cfg.Anthropic.HaikuModel)
	opus := sonnet.WithModel(cfg.Anthropic.OpusModel)

	deps := engine.Deps{
		Store:     st,
		Primary:   primary,
		Fallback:  fallback,
		Macro:     analyst.NewMacroScanner(sonnet),
		Heatmap:   analyst.NewHeatmapAnalyzer(sonnet),
		Rotator:   analyst.NewSectorRotator(haiku),
		Hunter:    analyst.NewOpportunityHunter(haiku),
		Coverage:  analyst.NewCoverageEvaluator(sonnet),
		Synthesis: analyst.NewSynthesisLead(opus),
		Caller:    sonnet,
		Registry:  analyst.DefaultRegistry(),
		Costs:     cost.NewCalculator(ratesFromConfig()),
	}

	if cfg.Notion.Token != "" && cfg.Notion.DigestParent != "" {
		deps.Publisher = &notionPublisher{
			client: notion.NewClient(cfg.Notion.Token),
			parent: cfg.Notion.DigestParent,
		}
	} else {
		zap.L().Info("notion publishing disabled, token or parent page not configured")
	}

	return engine.New(cfg.Engine, deps)
}

// ratesFromConfig overlays configured pricing on the default rate card.
func ratesFromConfig() cost.Rates {
	rates := cost.DefaultRates()
	for m, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[m] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}
