package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vizdots/api/internal/observability"
	"vizdots/api/internal/util"
)

const maxConcurrentResolutions = 8

type Resolver struct {
	repo    Repository
	cache   Cache
	indexer Indexer
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type Option func(*Resolver)

func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

func WithIndexer(i Indexer) Option {
	return func(r *Resolver) { r.indexer = i }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(repo Repository, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetEffectiveWorkflow returns nil, nil when the workflow does not exist. A
// workflow without versions resolves to version 1 with an empty structure.
//
// With a cache configured, the current revision is read first and a cached
// view is only served when it was stored under that same revision. A view is
// stored under the revision read before it was resolved, so a slow reader
// racing a write can only leave behind an entry later reads reject.
func (r *Resolver) GetEffectiveWorkflow(ctx context.Context, workflowID string) (*EffectiveWorkflow, error) {
	if r.cache == nil {
		return r.resolve(ctx, workflowID)
	}

	revision, err := r.repo.GetRevision(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow revision: %w", err)
	}
	if revision == "" {
		return nil, nil
	}

	cached, err := r.cache.Get(ctx, workflowID, revision)
	if err != nil {
		r.logger.Warn("workflow cache read failed", zap.String("workflow_id", workflowID), zap.Error(err))
	} else if cached != nil {
		r.metrics.WorkflowCache(true)
		return cached, nil
	}
	r.metrics.WorkflowCache(false)

	view, err := r.resolve(ctx, workflowID)
	if err != nil || view == nil {
		return view, err
	}

	if err := r.cache.Set(ctx, revision, *view); err != nil {
		r.logger.Warn("workflow cache write failed", zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return view, nil
}

func (r *Resolver) resolve(ctx context.Context, workflowID string) (*EffectiveWorkflow, error) {
	wf, err := r.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if wf == nil {
		return nil, nil
	}

	view := &EffectiveWorkflow{Workflow: *wf, VersionNumber: 1, OwnerNotes: []OwnerNote{}}

	version, err := r.repo.GetLatestVersion(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get latest version: %w", err)
	}
	if version != nil {
		view.VersionID = version.ID
		view.VersionNumber = version.VersionNumber
		view.Structure = version.Structure
	}

	override, err := r.repo.GetActiveOverride(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get active override: %w", err)
	}

	notes, err := r.repo.ListActiveOwnerNotes(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list owner notes: %w", err)
	}
	if len(notes) > 0 {
		view.OwnerNotes = notes
	}

	if override != nil {
		view.HasOverride = true
		view.Override = override
		view.EffectiveStructure = ApplyOverrides(view.Structure, override.Payload)
	} else {
		view.EffectiveStructure = view.Structure
	}
	return view, nil
}

// GetOrgEffectiveWorkflows resolves every active workflow of the org
// concurrently. Workflows that disappear mid-flight are dropped.
func (r *Resolver) GetOrgEffectiveWorkflows(ctx context.Context, orgID string) ([]EffectiveWorkflow, error) {
	ids, err := r.repo.ListActiveWorkflowIDs(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}

	resolved := make([]*EffectiveWorkflow, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentResolutions)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			view, err := r.GetEffectiveWorkflow(gctx, id)
			if err != nil {
				return fmt.Errorf("resolve workflow %s: %w", id, err)
			}
			resolved[i] = view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]EffectiveWorkflow, 0, len(resolved))
	for _, view := range resolved {
		if view != nil {
			out = append(out, *view)
		}
	}
	return out, nil
}

// OverrideInput is an admin correction of the AI-derived workflow.
type OverrideInput struct {
	Payload          OverridePayload `json:"payload"`
	AccuracyRating   *int            `json:"accuracyRating"`
	AccuracyFeedback string          `json:"accuracyFeedback"`
	CreatedBy        string          `json:"-"`
}

func (in OverrideInput) validate() error {
	if in.AccuracyRating != nil && (*in.AccuracyRating < 1 || *in.AccuracyRating > 5) {
		return fmt.Errorf("%w: accuracy rating must be between 1 and 5", ErrInvalidOverride)
	}
	if in.Payload.IsEmpty() && in.AccuracyRating == nil && strings.TrimSpace(in.AccuracyFeedback) == "" {
		return fmt.Errorf("%w: override changes nothing", ErrInvalidOverride)
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return fmt.Errorf("%w: author is required", ErrInvalidOverride)
	}
	return nil
}

// ReplaceOverride makes input the workflow's only active override, archiving
// the previous one. It returns the archived override (nil if there was none)
// and the created one.
func (r *Resolver) ReplaceOverride(ctx context.Context, workflowID string, input OverrideInput) (*Override, Override, error) {
	if err := input.validate(); err != nil {
		return nil, Override{}, err
	}
	wf, err := r.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, Override{}, fmt.Errorf("get workflow: %w", err)
	}
	if wf == nil {
		return nil, Override{}, ErrWorkflowNotFound
	}
	version, err := r.repo.GetLatestVersion(ctx, workflowID)
	if err != nil {
		return nil, Override{}, fmt.Errorf("get latest version: %w", err)
	}

	now := r.now().UTC()
	created := Override{
		ID:               util.NewID("wo"),
		WorkflowID:       workflowID,
		Payload:          input.Payload,
		AccuracyRating:   input.AccuracyRating,
		AccuracyFeedback: strings.TrimSpace(input.AccuracyFeedback),
		Status:           OverrideActive,
		CreatedBy:        input.CreatedBy,
		CreatedAt:        now,
	}
	if version != nil {
		created.BaseVersionID = version.ID
	}

	archived, stored, err := r.repo.ReplaceOverride(ctx, created, now)
	if err != nil {
		return nil, Override{}, fmt.Errorf("replace override: %w", err)
	}

	fields := []zap.Field{
		zap.String("workflow_id", workflowID),
		zap.String("override_id", stored.ID),
	}
	if archived != nil {
		fields = append(fields, zap.String("archived_override_id", archived.ID))
	}
	r.logger.Info("workflow override replaced", fields...)

	r.refresh(ctx, workflowID)
	return archived, stored, nil
}

// NoteInput describes a new owner note.
type NoteInput struct {
	NoteType   NoteType       `json:"noteType"`
	Content    string         `json:"content"`
	Visibility NoteVisibility `json:"visibility"`
	CreatedBy  string         `json:"-"`
}

func (r *Resolver) AddOwnerNote(ctx context.Context, workflowID string, input NoteInput) (OwnerNote, error) {
	switch input.NoteType {
	case NoteContext, NoteException, NoteTip, NoteWarning:
	default:
		return OwnerNote{}, fmt.Errorf("%w: unknown note type %q", ErrInvalidNote, input.NoteType)
	}
	if input.Visibility == "" {
		input.Visibility = VisibilityAll
	}
	switch input.Visibility {
	case VisibilityAll, VisibilityAdmins, VisibilityAgents:
	default:
		return OwnerNote{}, fmt.Errorf("%w: unknown visibility %q", ErrInvalidNote, input.Visibility)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return OwnerNote{}, fmt.Errorf("%w: content is required", ErrInvalidNote)
	}

	wf, err := r.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return OwnerNote{}, fmt.Errorf("get workflow: %w", err)
	}
	if wf == nil {
		return OwnerNote{}, ErrWorkflowNotFound
	}

	note, err := r.repo.InsertOwnerNote(ctx, OwnerNote{
		ID:         util.NewID("on"),
		WorkflowID: workflowID,
		NoteType:   input.NoteType,
		Content:    content,
		Visibility: input.Visibility,
		IsActive:   true,
		CreatedBy:  input.CreatedBy,
		CreatedAt:  r.now().UTC(),
	})
	if err != nil {
		return OwnerNote{}, fmt.Errorf("insert owner note: %w", err)
	}
	r.refresh(ctx, workflowID)
	return note, nil
}

// DeactivateOwnerNote soft-deletes a note.
func (r *Resolver) DeactivateOwnerNote(ctx context.Context, workflowID, noteID string) error {
	if err := r.repo.DeactivateOwnerNote(ctx, workflowID, noteID); err != nil {
		return err
	}
	r.refresh(ctx, workflowID)
	return nil
}

// refresh drops the cached view and pushes the new one to the search index.
func (r *Resolver) refresh(ctx context.Context, workflowID string) {
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, workflowID); err != nil {
			r.logger.Warn("workflow cache invalidate failed", zap.String("workflow_id", workflowID), zap.Error(err))
		}
	}
	if r.indexer == nil {
		return
	}
	view, err := r.GetEffectiveWorkflow(ctx, workflowID)
	if err != nil {
		r.logger.Warn("workflow reindex failed", zap.String("workflow_id", workflowID), zap.Error(err))
		return
	}
	if view != nil {
		r.indexer.IndexWorkflow(*view)
	}
}
