package service

import (
	"context"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/store"
	"go.uber.org/zap"
)

// SearchService compares an equality lookup on the primary with the same
// lookup on the in-process mirror.
//
// Latency covers only the lookup itself: for the store path the FindByField
// call on an already open connection, for the mirror path the snapshot scan.
// Connection setup is excluded.
type SearchService struct {
	connector *node.Connector
	registry  *node.Registry
	mirror    *store.MirrorStore
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewSearchService creates a new search service
func NewSearchService(
	connector *node.Connector,
	registry *node.Registry,
	mirror *store.MirrorStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SearchService {
	return &SearchService{
		connector: connector,
		registry:  registry,
		mirror:    mirror,
		metrics:   m,
		logger:    logger,
	}
}

func validateSearch(key, value string) error {
	if key == "" {
		return apierrors.ClientInput("key is required")
	}
	if value == "" {
		return apierrors.ClientInput("value is required")
	}
	if key == model.FieldTimestamp {
		return apierrors.ClientInput("ts is not a searchable key")
	}
	return nil
}

// SearchStore runs key == value on the primary
func (s *SearchService) SearchStore(ctx context.Context, key, value string) (*model.SearchResult, error) {
	if err := validateSearch(key, value); err != nil {
		return nil, err
	}

	var (
		matches []model.Record
		elapsed time.Duration
	)
	err := s.connector.WithNode(ctx, s.registry.Primary(), "search", func(ctx context.Context, conn store.Connection) error {
		start := time.Now()
		var err error
		matches, err = conn.FindByField(ctx, key, value, model.SearchLimit)
		elapsed = time.Since(start)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveSearch(string(model.SourceStore), elapsed)
	return newSearchResult(model.SourceStore, key, value, matches, elapsed), nil
}

// SearchMirror runs key == value over a snapshot of the mirror
func (s *SearchService) SearchMirror(ctx context.Context, key, value string) (*model.SearchResult, error) {
	if err := validateSearch(key, value); err != nil {
		return nil, err
	}

	start := time.Now()
	matches := s.mirror.Find(key, value, model.SearchLimit)
	elapsed := time.Since(start)

	s.metrics.ObserveSearch(string(model.SourceMirror), elapsed)
	return newSearchResult(model.SourceMirror, key, value, matches, elapsed), nil
}

func newSearchResult(source model.SearchSource, key, value string, matches []model.Record, elapsed time.Duration) *model.SearchResult {
	if matches == nil {
		matches = []model.Record{}
	}
	return &model.SearchResult{
		Source:    source,
		Key:       key,
		Value:     value,
		Matches:   matches,
		Count:     len(matches),
		LatencyMs: elapsed.Milliseconds(),
		LatencyUs: elapsed.Microseconds(),
	}
}
