package patient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SummaryTTL is how long a generated summary is reused for identical inputs.
const SummaryTTL = 30 * time.Minute

// maxQueuePatients caps how many patients are described in a queue summary.
const maxQueuePatients = 10

// ErrSummariesUnavailable is returned when no summarizer is configured.
var ErrSummariesUnavailable = errors.New("ai summaries unavailable")

// SummaryKind selects which summary to generate.
type SummaryKind string

const (
	SummarySymptoms  SummaryKind = "symptoms"
	SummaryTreatment SummaryKind = "treatment"
	SummaryQueue     SummaryKind = "queue"
)

// Valid reports whether k is a known kind.
func (k SummaryKind) Valid() bool {
	switch k {
	case SummarySymptoms, SummaryTreatment, SummaryQueue:
		return true
	}
	return false
}

// SummaryRequest is the input handed to a Summarizer. Patient is set for
// symptoms and treatment summaries; Queue and Stats for queue summaries.
type SummaryRequest struct {
	Kind    SummaryKind `json:"kind"`
	Patient *Record     `json:"patient,omitempty"`
	Queue   []*Record   `json:"queue,omitempty"`
	Stats   *Stats      `json:"stats,omitempty"`
}

// Summarizer generates clinical summaries (an LLM in production).
type Summarizer interface {
	Summarize(ctx context.Context, req *SummaryRequest) (string, error)
}

// SummaryCache stores generated summaries by input hash.
type SummaryCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Stats(ctx context.Context) (CacheStats, error)
	// Clear drops every entry and reports how many were removed.
	Clear(ctx context.Context) (int, error)
}

// CacheStats counts cache entries. Backends that evict on expiry report
// Expired as zero.
type CacheStats struct {
	Total   int
	Valid   int
	Expired int
}

// SummaryCacheStatus is the operator view of the summary cache.
type SummaryCacheStatus struct {
	TotalItems      int  `json:"totalCachedItems"`
	ValidItems      int  `json:"validItems"`
	ExpiredItems    int  `json:"expiredItems"`
	DurationMinutes int  `json:"cacheDurationMinutes"`
	Enabled         bool `json:"serviceInitialized"`
}

// Summary is a generated (or cached) summary.
type Summary struct {
	Kind        SummaryKind `json:"kind"`
	Text        string      `json:"summary"`
	Cached      bool        `json:"cached"`
	GeneratedAt time.Time   `json:"timestamp"`
}

// PatientSummary returns a symptoms or treatment summary for a patient in
// the working set. refresh bypasses the cache.
func (s *Service) PatientSummary(ctx context.Context, id string, kind SummaryKind, refresh bool) (*Summary, error) {
	if kind != SummarySymptoms && kind != SummaryTreatment {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported summary kind %q", kind)}
	}
	rec, ok := s.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.summarize(ctx, &SummaryRequest{Kind: kind, Patient: summaryInput(rec)}, refresh)
}

// QueueSummary returns a queue-management summary for the current queue.
func (s *Service) QueueSummary(ctx context.Context, refresh bool) (*Summary, error) {
	queue := s.Queue()
	stats := s.Stats()
	if len(queue) > maxQueuePatients {
		queue = queue[:maxQueuePatients]
	}
	for i, r := range queue {
		queue[i] = summaryInput(r)
	}
	// the cache key must not change every time the clock ticks
	stats.ComputedAt = time.Time{}
	return s.summarize(ctx, &SummaryRequest{Kind: SummaryQueue, Queue: queue, Stats: &stats}, refresh)
}

func (s *Service) summarize(ctx context.Context, req *SummaryRequest, refresh bool) (*Summary, error) {
	if s.summarizer == nil {
		return nil, ErrSummariesUnavailable
	}

	key, err := summaryKey(req)
	if err != nil {
		return nil, err
	}

	L := s.logger.With("summary_kind", req.Kind, "cache_key", key[:8])

	if !refresh {
		text, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			L.Warn(ctx, "summary cache read failed", "error", err)
		} else if ok {
			s.onSummary(req.Kind, "cache")
			return &Summary{Kind: req.Kind, Text: text, Cached: true, GeneratedAt: s.now()}, nil
		}
	}

	text, err := s.summarizer.Summarize(ctx, req)
	if err != nil {
		s.onSummary(req.Kind, "error")
		L.Error(ctx, err, "summary generation failed")
		return nil, fmt.Errorf("generate %s summary: %w", req.Kind, err)
	}
	s.onSummary(req.Kind, "llm")

	if err := s.cache.Set(ctx, key, text, SummaryTTL); err != nil {
		L.Warn(ctx, "summary cache write failed", "error", err)
	}

	return &Summary{Kind: req.Kind, Text: text, GeneratedAt: s.now()}, nil
}

// SummaryCacheStatus reports the cache contents and whether summaries can be
// generated at all.
func (s *Service) SummaryCacheStatus(ctx context.Context) (*SummaryCacheStatus, error) {
	st, err := s.cache.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("summary cache stats: %w", err)
	}
	return &SummaryCacheStatus{
		TotalItems:      st.Total,
		ValidItems:      st.Valid,
		ExpiredItems:    st.Expired,
		DurationMinutes: int(SummaryTTL / time.Minute),
		Enabled:         s.summarizer != nil,
	}, nil
}

// ClearSummaryCache empties the summary cache and returns the number of
// entries removed.
func (s *Service) ClearSummaryCache(ctx context.Context) (int, error) {
	n, err := s.cache.Clear(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "summary cache clear failed")
		return 0, fmt.Errorf("clear summary cache: %w", err)
	}
	s.logger.Info(ctx, "summary cache cleared", "items_cleared", n)
	return n, nil
}

func (s *Service) onSummary(kind SummaryKind, source string) {
	if s.hooks.OnSummary != nil {
		s.hooks.OnSummary(kind, source)
	}
}

// summaryInput strips fields that change without changing the clinical
// picture, so identical patients hash to the same cache key.
func summaryInput(r *Record) *Record {
	cp := r.Clone()
	cp.CreatedAt = time.Time{}
	cp.UpdatedAt = time.Time{}
	cp.AISummary = ""
	return cp
}

func summaryKey(req *SummaryRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal summary request: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MemoryCache is an in-process SummaryCache. Expired entries are dropped lazily.
type MemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// NewMemoryCache creates an empty cache. A nil clock uses time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{now: now, entries: make(map[string]cacheEntry)}
}

// Get returns the cached value if present and unexpired.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value for ttl and sweeps expired entries.
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{value: value, expires: now.Add(ttl)}
	return nil
}

// Stats counts entries, including expired ones not yet swept.
func (c *MemoryCache) Stats(context.Context) (CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	st := CacheStats{Total: len(c.entries)}
	for _, e := range c.entries {
		if now.Before(e.expires) {
			st.Valid++
		} else {
			st.Expired++
		}
	}
	return st, nil
}

// Clear drops every entry.
func (c *MemoryCache) Clear(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	clear(c.entries)
	return n, nil
}
