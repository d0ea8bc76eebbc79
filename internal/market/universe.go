package market

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SectorETFs maps each sector ETF to its sector name.
var SectorETFs = map[string]string{
	"XLK":  "Technology",
	"XLF":  "Financials",
	"XLE":  "Energy",
	"XLV":  "Healthcare",
	"XLI":  "Industrials",
	"XLP":  "Consumer Staples",
	"XLY":  "Consumer Discretionary",
	"XLU":  "Utilities",
	"XLC":  "Communication Services",
	"XLRE": "Real Estate",
	"XLB":  "Materials",
}

// FallbackHoldings lists the top holdings per sector ETF, used when no
// universe override file is supplied.
var FallbackHoldings = map[string][]string{
	"XLK":  {"AAPL", "MSFT", "NVDA", "AVGO", "ORCL", "CRM", "AMD", "ADBE", "CSCO", "ACN"},
	"XLF":  {"BRK-B", "JPM", "V", "MA", "BAC", "WFC", "GS", "MS", "SPGI", "BLK"},
	"XLE":  {"XOM", "CVX", "COP", "SLB", "EOG", "MPC", "PXD", "PSX", "VLO", "OXY"},
	"XLV":  {"UNH", "JNJ", "LLY", "PFE", "ABBV", "MRK", "TMO", "ABT", "DHR", "BMY"},
	"XLI":  {"CAT", "UNP", "HON", "UPS", "BA", "RTX", "DE", "LMT", "GE", "MMM"},
	"XLP":  {"PG", "KO", "PEP", "COST", "WMT", "PM", "MO", "MDLZ", "CL", "KMB"},
	"XLY":  {"AMZN", "TSLA", "HD", "MCD", "NKE", "LOW", "SBUX", "TJX", "BKNG", "CMG"},
	"XLU":  {"NEE", "DUK", "SO", "D", "AEP", "SRE", "EXC", "XEL", "PEG", "ED"},
	"XLC":  {"META", "GOOGL", "GOOG", "NFLX", "DIS", "CMCSA", "VZ", "T", "TMUS", "CHTR"},
	"XLRE": {"PLD", "AMT", "EQIX", "CCI", "PSA", "O", "WELL", "DLR", "SPG", "AVB"},
	"XLB":  {"LIN", "APD", "SHW", "FCX", "ECL", "NEM", "DOW", "NUE", "DD", "PPG"},
}

// Universe is the resolved screening universe: symbols grouped by sector.
type Universe struct {
	BySector map[string][]string
}

// Symbols returns all universe symbols, deduplicated, in sorted order.
func (u *Universe) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, syms := range u.BySector {
		for _, s := range syms {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Sector returns the sector a symbol belongs to, or "" when unknown.
func (u *Universe) Sector(symbol string) string {
	for sector, syms := range u.BySector {
		for _, s := range syms {
			if s == symbol {
				return sector
			}
		}
	}
	return ""
}

// universeFile is the yaml override format: sector name to symbol list.
type universeFile struct {
	Sectors map[string][]string `yaml:"sectors"`
}

// UniverseBuilder resolves the screening universe, caching the result with
// a TTL so repeated runs within the hour reuse one snapshot.
type UniverseBuilder struct {
	overridePath string
	limit        int
	ttl          time.Duration
	now          func() time.Time

	mu       sync.Mutex
	cached   *Universe
	cachedAt time.Time
}

// UniverseOption configures a UniverseBuilder.
type UniverseOption func(*UniverseBuilder)

// WithOverrideFile points the builder at a yaml file replacing the built-in
// holdings.
func WithOverrideFile(path string) UniverseOption {
	return func(b *UniverseBuilder) {
		b.overridePath = path
	}
}

// WithUniverseLimit caps the total symbol count, trimming each sector's tail
// evenly.
func WithUniverseLimit(limit int) UniverseOption {
	return func(b *UniverseBuilder) {
		b.limit = limit
	}
}

// WithCacheTTL overrides the default 1-hour cache TTL.
func WithCacheTTL(ttl time.Duration) UniverseOption {
	return func(b *UniverseBuilder) {
		b.ttl = ttl
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) UniverseOption {
	return func(b *UniverseBuilder) {
		b.now = now
	}
}

// NewUniverseBuilder creates a builder with a 1-hour cache TTL.
func NewUniverseBuilder(opts ...UniverseOption) *UniverseBuilder {
	b := &UniverseBuilder{
		ttl: time.Hour,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the screening universe, from cache when fresh.
func (b *UniverseBuilder) Build() (*Universe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != nil && b.now().Sub(b.cachedAt) < b.ttl {
		return b.cached, nil
	}

	u, err := b.resolve()
	if err != nil {
		return nil, err
	}

	b.cached = u
	b.cachedAt = b.now()
	return u, nil
}

func (b *UniverseBuilder) resolve() (*Universe, error) {
	bySector := make(map[string][]string)

	if b.overridePath != "" {
		data, err := os.ReadFile(b.overridePath)
		if err != nil {
			return nil, eris.Wrap(err, "market: read universe file")
		}
		var uf universeFile
		if err := yaml.Unmarshal(data, &uf); err != nil {
			return nil, eris.Wrap(err, "market: parse universe file")
		}
		if len(uf.Sectors) == 0 {
			return nil, eris.New("market: universe file has no sectors")
		}
		for sector, syms := range uf.Sectors {
			bySector[sector] = append([]string(nil), syms...)
		}
	} else {
		for etf, sector := range SectorETFs {
			bySector[sector] = append([]string(nil), FallbackHoldings[etf]...)
		}
	}

	if b.limit > 0 {
		trimToLimit(bySector, b.limit)
	}

	return &Universe{BySector: bySector}, nil
}

// trimToLimit drops the tail of each sector round-robin until the total
// symbol count fits the limit. Sector order is fixed so trims are stable.
func trimToLimit(bySector map[string][]string, limit int) {
	total := 0
	for _, syms := range bySector {
		total += len(syms)
	}

	sectors := make([]string, 0, len(bySector))
	for s := range bySector {
		sectors = append(sectors, s)
	}
	sort.Strings(sectors)

	for total > limit {
		trimmed := false
		for _, s := range sectors {
			if total <= limit {
				return
			}
			if n := len(bySector[s]); n > 1 {
				bySector[s] = bySector[s][:n-1]
				total--
				trimmed = true
			}
		}
		if !trimmed {
			return
		}
	}
}
