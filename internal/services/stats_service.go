package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dompet/internal/cache"
	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/stats"

	"golang.org/x/sync/singleflight"
)

const statsCacheSize = 512

// StatsService serves period reports from a short-lived per-owner cache.
// Concurrent requests for the same owner and period share one build.
type StatsService struct {
	aggregator *stats.Aggregator
	cache      *cache.LRUCache[stats.Report]
	group      singleflight.Group
	logger     *log.Logger

	// generations counts invalidations per owner. A build only caches its
	// report when no invalidation happened since it started.
	mu          sync.Mutex
	generations map[string]uint64
}

func NewStatsService(aggregator *stats.Aggregator, ttl time.Duration) *StatsService {
	return &StatsService{
		aggregator:  aggregator,
		cache:       cache.NewLRUCache[stats.Report](statsCacheSize, ttl),
		logger:      log.Default(log.ComponentStats),
		generations: map[string]uint64{},
	}
}

// Cache exposes the report cache so it can be registered for sweeping.
func (s *StatsService) Cache() cache.Cleaner {
	return s.cache
}

// Report returns the owner's report for period.
func (s *StatsService) Report(ctx context.Context, ownerID string, period stats.Period) (stats.Report, error) {
	if ownerID == "" {
		return stats.Report{}, core.ErrMissingOwner
	}
	key := cacheKey(ownerID, period)
	if r, ok := s.cache.Get(key); ok {
		return r, nil
	}

	gen := s.generation(ownerID)
	v, err, shared := s.group.Do(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		r, err := s.aggregator.Build(ctx, ownerID, period)
		if err != nil {
			return stats.Report{}, err
		}
		s.mu.Lock()
		if s.generations[ownerID] == gen {
			s.cache.Set(key, r)
		}
		s.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return stats.Report{}, fmt.Errorf("build %s report: %w", period, err)
	}
	s.logger.DebugContext(ctx, "Built report", log.FieldOwnerID, ownerID, log.FieldPeriod, period.String(), "shared", shared)
	return v.(stats.Report), nil
}

// Invalidate drops every cached report of the owner.
func (s *StatsService) Invalidate(ownerID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.generations[ownerID]++
	s.mu.Unlock()
	s.cache.DeletePrefix(ownerID + "|")
}

func (s *StatsService) generation(ownerID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[ownerID]
}

func cacheKey(ownerID string, period stats.Period) string {
	return ownerID + "|" + period.String()
}
