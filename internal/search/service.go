package search

import (
	"context"

	"go.uber.org/zap"

	"vizdots/api/internal/alerts"
	"vizdots/api/internal/workflow"
)

// Loader reads every searchable record for a full reindex.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]WorkflowRecord, []AlertRecord, error)
}

// Service is the facade that tries the primary index first and falls back
// to Postgres. It implements workflow.Indexer.
type Service struct {
	primary  Index
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. primary may be nil (or a nil *Meili)
// when Meilisearch is not configured.
func NewService(primary Index, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary index if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("primary search failed, falling back", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexWorkflow pushes the effective view to the primary index
// (fire-and-forget).
func (s *Service) IndexWorkflow(view workflow.EffectiveWorkflow) {
	if !s.primaryHealthy() {
		return
	}
	rec := WorkflowRecordFrom(view)
	go func() {
		if err := s.primary.IndexWorkflows([]WorkflowRecord{rec}); err != nil {
			s.logger.Warn("index workflow", zap.String("workflow_id", rec.ID), zap.Error(err))
		}
	}()
}

// IndexAlerts pushes newly created or updated alerts (fire-and-forget).
func (s *Service) IndexAlerts(items []alerts.Alert) {
	if !s.primaryHealthy() || len(items) == 0 {
		return
	}
	records := make([]AlertRecord, 0, len(items))
	for _, a := range items {
		records = append(records, AlertRecordFrom(a))
	}
	go func() {
		if err := s.primary.IndexAlerts(records); err != nil {
			s.logger.Warn("index alerts", zap.Int("count", len(records)), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteWorkflow(id string) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteWorkflow(id); err != nil {
			s.logger.Warn("delete workflow", zap.String("workflow_id", id), zap.Error(err))
		}
	}()
}

// ReindexAll loads every record and pushes it to the primary index
// synchronously. Used at startup when Meilisearch is reachable.
func (s *Service) ReindexAll(ctx context.Context, loader Loader) {
	if !s.primaryHealthy() || loader == nil {
		return
	}
	workflows, alertRecords, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexWorkflows(workflows); err != nil {
		s.logger.Warn("reindex workflows", zap.Error(err))
	}
	if err := s.primary.IndexAlerts(alertRecords); err != nil {
		s.logger.Warn("reindex alerts", zap.Error(err))
	}
	s.logger.Info("search reindex complete",
		zap.Int("workflows", len(workflows)),
		zap.Int("alerts", len(alertRecords)))
}
