package lopq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xDarkicex/lopq/internal/obs"
)

// Cluster is one inverted cell's contents: parallel id and FineCode
// sequences of equal length.
type Cluster struct {
	IDs     []string
	Vectors []FineCode
}

// CellFetcher is the abstract cell-storage collaborator a Searcher
// delegates to on a cache miss. Implementations may perform I/O; they
// must be safe to invoke from the calling goroutine and are expected to
// be pure (the same coarse code always yields an equivalent Cluster).
type CellFetcher interface {
	GetCell(ctx context.Context, coarse CoarseCode) (*Cluster, error)
}

// Config is a Searcher's mutable-outside-a-search configuration record.
type Config struct {
	// Quota caps the number of Responses a search returns.
	Quota uint
	// Dedup, if true, drops a candidate whose FineCode lies within
	// DedupThreshold squared-L2 of an earlier-accepted candidate. The
	// distance is taken over the raw FineCode bytes as a cheap heuristic
	// proxy; it is not a distance between reconstructed vectors.
	Dedup bool
	// DedupThreshold is the squared-L2 radius used by Dedup.
	DedupThreshold float32

	metrics       *obs.Metrics
	breakerConfig *obs.CircuitBreakerConfig
}

// DefaultConfig returns the documented defaults: quota 12, dedup off,
// dedup_threshold 1e-4.
func DefaultConfig() Config {
	return Config{Quota: 12, Dedup: false, DedupThreshold: 1e-4}
}

// Option configures a Searcher at construction time.
type Option func(*Config) error

// WithQuota sets the maximum number of Responses a search returns.
func WithQuota(quota uint) Option {
	return func(c *Config) error {
		if quota == 0 {
			return fmt.Errorf("lopq: quota must be positive")
		}
		c.Quota = quota
		return nil
	}
}

// WithDedup enables or disables deduplication.
func WithDedup(enabled bool) Option {
	return func(c *Config) error {
		c.Dedup = enabled
		return nil
	}
}

// WithDedupThreshold sets the squared-L2 dedup radius.
func WithDedupThreshold(threshold float32) Option {
	return func(c *Config) error {
		if threshold < 0 {
			return fmt.Errorf("lopq: dedup threshold must be non-negative")
		}
		c.DedupThreshold = threshold
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics sink. Without this option, a
// Searcher records nothing.
func WithMetrics(m *obs.Metrics) Option {
	return func(c *Config) error {
		c.metrics = m
		return nil
	}
}

// WithCircuitBreaker wraps every cell-fetch collaborator call in a
// circuit breaker configured by cfg. Without this option, collaborator
// calls are never short-circuited.
func WithCircuitBreaker(cfg obs.CircuitBreakerConfig) Option {
	return func(c *Config) error {
		c.breakerConfig = &cfg
		return nil
	}
}

// Searcher walks one inverted cell at a time: it resolves a coarse code
// to a Cluster (via CellFetcher, cached thereafter), scores every entry
// against the Model's asymmetric-distance tables, optionally
// deduplicates, and returns the top Config.Quota ranked Responses.
type Searcher struct {
	model   *Model
	fetcher CellFetcher
	cfg     Config

	mu    sync.RWMutex
	cells map[uint64]*Cluster

	metrics *obs.Metrics
	breaker *obs.CircuitBreaker
}

// NewSearcher constructs a Searcher over model, delegating cell misses to
// fetcher.
func NewSearcher(model *Model, fetcher CellFetcher, opts ...Option) (*Searcher, error) {
	if model == nil {
		return nil, &InvalidArgumentError{Component: "Searcher", Operation: "NewSearcher", Message: "model must not be nil"}
	}
	if fetcher == nil {
		return nil, &InvalidArgumentError{Component: "Searcher", Operation: "NewSearcher", Message: "fetcher must not be nil"}
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, &InvalidArgumentError{Component: "Searcher", Operation: "NewSearcher", Message: err.Error()}
		}
	}

	s := &Searcher{
		model:   model,
		fetcher: fetcher,
		cfg:     cfg,
		cells:   make(map[uint64]*Cluster),
		metrics: cfg.metrics,
	}
	if cfg.breakerConfig != nil {
		s.breaker = obs.NewCircuitBreaker(*cfg.breakerConfig)
	}
	return s, nil
}

// cellKey packs a CoarseCode into the single integer the cell cache is
// keyed by: c[0]*K_coarse + c[1]. Both coarse splits are required to
// share the same K_coarse (enforced at Model load), which makes this
// packing injective.
func (s *Searcher) cellKey(c CoarseCode) uint64 {
	return uint64(c[0])*uint64(s.model.kCoarse) + uint64(c[1])
}

// Search computes the coarse code for x and scores its cell, per §4.2.2.
func (s *Searcher) Search(ctx context.Context, x FeatureVector) ([]Response, error) {
	coarse, err := s.model.PredictCoarse(x)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SearchQueries.Inc()
		}
		s.recordError()
		return nil, err
	}
	return s.SearchIn(ctx, coarse, x)
}

// SearchIn scores the cell for an externally chosen coarse code against
// x, without computing or validating that code from x itself.
func (s *Searcher) SearchIn(ctx context.Context, coarse CoarseCode, x FeatureVector) ([]Response, error) {
	start := time.Now()
	defer s.recordLatency(start)

	if s.metrics != nil {
		s.metrics.SearchQueries.Inc()
	}

	for split, code := range coarse {
		if int(code) >= s.model.kCoarse {
			s.recordError()
			return nil, &InvalidArgumentError{
				Component: "Searcher",
				Operation: "SearchIn",
				Message:   fmt.Sprintf("coarse code %d for split %d out of range [0,%d)", code, split, s.model.kCoarse),
			}
		}
	}

	cluster, err := s.getCell(ctx, coarse)
	if err != nil {
		s.recordError()
		return nil, err
	}
	if len(cluster.IDs) != len(cluster.Vectors) {
		s.recordError()
		return nil, &DataCorruptionError{Component: "Searcher", Operation: "SearchIn", Message: "cell ids and vectors have unequal length"}
	}

	dc := &distanceCache{}
	candidates := make([]Response, 0, len(cluster.IDs))
	var acceptedFine []FineCode

	for i, id := range cluster.IDs {
		fine := cluster.Vectors[i]
		dist, err := s.scoreEntry(dc, x, coarse, fine)
		if err != nil {
			s.recordError()
			return nil, err
		}

		if s.cfg.Dedup {
			if dedupHit(acceptedFine, fine, s.cfg.DedupThreshold) {
				if s.metrics != nil {
					s.metrics.DedupDrops.Inc()
				}
				continue
			}
			acceptedFine = append(acceptedFine, fine)
		}

		candidates = append(candidates, Response{ID: id, Distance: dist})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})

	quota := int(s.cfg.Quota)
	if quota < len(candidates) {
		candidates = candidates[:quota]
	}
	return candidates, nil
}

// scoreEntry sums the per-subsplit asymmetric distance of fine against
// the query's rotated residual projection for coarse, using dc to
// memoize each split's distance table across entries within one search.
func (s *Searcher) scoreEntry(dc *distanceCache, x FeatureVector, coarse CoarseCode, fine FineCode) (float32, error) {
	var total float32
	for split := 0; split < NumCoarseSplits; split++ {
		table, err := dc.get(s.model, x, coarse, split)
		if err != nil {
			return 0, err
		}
		for t := 0; t < NumFineSplits; t++ {
			idx := int(fine[split*NumFineSplits+t])
			if idx < 0 || idx >= len(table[t]) {
				return 0, &DataCorruptionError{
					Component: "Searcher",
					Operation: "scoreEntry",
					Message:   fmt.Sprintf("fine code index %d for split %d subsplit %d outside [0,%d)", idx, split, t, len(table[t])),
				}
			}
			total += table[t][idx]
		}
	}
	return total, nil
}

// dedupHit reports whether candidate's FineCode lies within threshold
// squared-L2 of any already-accepted FineCode, per §4.2.5: accepted
// codes are compared in scoring order, and a hit drops the candidate
// rather than replacing the earlier entry.
func dedupHit(accepted []FineCode, candidate FineCode, threshold float32) bool {
	for _, a := range accepted {
		if fineCodeSquaredDistance(a, candidate) <= threshold {
			return true
		}
	}
	return false
}

func fineCodeSquaredDistance(a, b FineCode) float32 {
	var sum float32
	for i := range a {
		d := float32(a[i]) - float32(b[i])
		sum += d * d
	}
	return sum
}

// getCell returns the cached Cluster for coarse, fetching and caching it
// via the CellFetcher collaborator on first reference. A cell that is
// already cached is never refetched.
func (s *Searcher) getCell(ctx context.Context, coarse CoarseCode) (*Cluster, error) {
	key := s.cellKey(coarse)

	s.mu.RLock()
	cluster, ok := s.cells[key]
	s.mu.RUnlock()
	if ok {
		return cluster, nil
	}

	var fetched *Cluster
	fetch := func() error {
		c, err := s.fetcher.GetCell(ctx, coarse)
		if err != nil {
			return err
		}
		fetched = c
		return nil
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, fetch)
	} else {
		err = fetch()
	}

	if s.metrics != nil {
		s.metrics.CellFetches.Inc()
		if err != nil {
			s.metrics.CellFetchErrors.Inc()
		}
	}
	if err != nil {
		return nil, &CellFetchError{Component: "Searcher", Operation: "getCell", Coarse: coarse, Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cells[key]; ok {
		return existing, nil
	}
	s.cells[key] = fetched
	return fetched, nil
}

func (s *Searcher) recordError() {
	if s.metrics != nil {
		s.metrics.SearchErrors.Inc()
	}
}

func (s *Searcher) recordLatency(start time.Time) {
	if s.metrics != nil {
		s.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	}
}

// CheckHealth implements obs.Checker, reporting whether this Searcher is
// usable, how many cells it currently has cached, and — when a circuit
// breaker guards its CellFetcher — that breaker's current state. A
// breaker that has tripped open is reported as unhealthy, since every
// subsequent cell fetch will fail fast until it recovers.
func (s *Searcher) CheckHealth(ctx context.Context) obs.CheckResult {
	s.mu.RLock()
	cached := len(s.cells)
	s.mu.RUnlock()

	msg := fmt.Sprintf("model dim=%d k_coarse=%d k_fine=%d; %d cells cached", s.model.Dim(), s.model.KCoarse(), s.model.KFine(), cached)
	if s.breaker == nil {
		return obs.CheckResult{Healthy: true, Message: msg}
	}

	state := s.breaker.State()
	failures, successes, requests := s.breaker.Counts()
	msg += fmt.Sprintf("; cell-fetch breaker=%s (failures=%d successes=%d requests=%d)", state, failures, successes, requests)
	return obs.CheckResult{Healthy: state != obs.CircuitOpen, Message: msg}
}

// distanceCache memoizes each coarse split's asymmetric-distance table
// within a single search, per §4.2.4: computed at most twice per search
// (once per split), never shared across searches.
type distanceCache struct {
	tables [NumCoarseSplits][][]float32
	has    [NumCoarseSplits]bool
}

func (dc *distanceCache) get(m *Model, x FeatureVector, coarse CoarseCode, split int) ([][]float32, error) {
	if dc.has[split] {
		return dc.tables[split], nil
	}
	table, err := m.SubquantizerDistances(x, coarse, split)
	if err != nil {
		return nil, err
	}
	dc.tables[split] = table
	dc.has[split] = true
	return table, nil
}
