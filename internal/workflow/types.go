// Package workflow resolves a workflow's current version together with its
// active admin override into the effective view agents and dashboards use.
package workflow

import (
	"context"
	"errors"
	"time"
)

// Structure is the full content of one workflow version.
type Structure struct {
	Steps       []string `json:"steps,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	DataSources []string `json:"data_sources,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Duration    string   `json:"duration,omitempty"`
	Frequency   string   `json:"frequency,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// OverridePayload is a sparse patch applied on top of a Structure.
type OverridePayload struct {
	RenamedSteps      map[string]string `json:"renamed_steps,omitempty"`
	RemovedSteps      []string          `json:"removed_steps,omitempty"`
	AddedSteps        []string          `json:"added_steps,omitempty"`
	ToolSubstitutions map[string]string `json:"tool_substitutions,omitempty"`
	CustomNotes       string            `json:"custom_notes,omitempty"`
}

type OverrideStatus string

const (
	OverrideActive   OverrideStatus = "active"
	OverrideArchived OverrideStatus = "archived"
)

type Workflow struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"orgId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Version struct {
	ID            string    `json:"id"`
	WorkflowID    string    `json:"workflowId"`
	VersionNumber int       `json:"versionNumber"`
	Structure     Structure `json:"structure"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Override struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflowId"`
	BaseVersionID    string          `json:"baseVersionId,omitempty"`
	Payload          OverridePayload `json:"payload"`
	AccuracyRating   *int            `json:"accuracyRating,omitempty"`
	AccuracyFeedback string          `json:"accuracyFeedback,omitempty"`
	Status           OverrideStatus  `json:"status"`
	CreatedBy        string          `json:"createdBy"`
	CreatedAt        time.Time       `json:"createdAt"`
	ArchivedAt       *time.Time      `json:"archivedAt,omitempty"`
}

type NoteType string

const (
	NoteContext   NoteType = "context"
	NoteException NoteType = "exception"
	NoteTip       NoteType = "tip"
	NoteWarning   NoteType = "warning"
)

type NoteVisibility string

const (
	VisibilityAll    NoteVisibility = "all"
	VisibilityAdmins NoteVisibility = "admins"
	VisibilityAgents NoteVisibility = "agents"
)

type OwnerNote struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflowId"`
	NoteType   NoteType       `json:"noteType"`
	Content    string         `json:"content"`
	Visibility NoteVisibility `json:"visibility"`
	IsActive   bool           `json:"isActive"`
	CreatedBy  string         `json:"createdBy"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// EffectiveWorkflow is the resolved view of a workflow.
type EffectiveWorkflow struct {
	Workflow
	VersionID          string      `json:"versionId,omitempty"`
	VersionNumber      int         `json:"versionNumber"`
	Structure          Structure   `json:"structure"`
	EffectiveStructure Structure   `json:"effectiveStructure"`
	HasOverride        bool        `json:"hasOverride"`
	Override           *Override   `json:"override,omitempty"`
	OwnerNotes         []OwnerNote `json:"ownerNotes"`
}

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrNoteNotFound     = errors.New("owner note not found")
	ErrInvalidOverride  = errors.New("invalid override")
	ErrInvalidNote      = errors.New("invalid owner note")
)

// Repository is the read/write capability the resolver needs. Get* methods
// return a nil pointer and no error when the row does not exist.
type Repository interface {
	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)
	GetLatestVersion(ctx context.Context, workflowID string) (*Version, error)
	GetActiveOverride(ctx context.Context, workflowID string) (*Override, error)
	ListActiveOwnerNotes(ctx context.Context, workflowID string) ([]OwnerNote, error)
	ListActiveWorkflowIDs(ctx context.Context, orgID string) ([]string, error)

	// GetRevision fingerprints every row a view is built from: the workflow
	// itself, its latest version, its active override and its active notes.
	// It returns "" when the workflow does not exist.
	GetRevision(ctx context.Context, workflowID string) (string, error)

	// ReplaceOverride archives the active override, if any, and inserts
	// created as the new active one in a single transaction.
	ReplaceOverride(ctx context.Context, created Override, archivedAt time.Time) (*Override, Override, error)
	InsertOwnerNote(ctx context.Context, note OwnerNote) (OwnerNote, error)
	DeactivateOwnerNote(ctx context.Context, workflowID, noteID string) error
}

// Cache stores resolved views stamped with the revision they were resolved
// at. Get returns (nil, nil) on a miss and when the stored revision differs
// from the one asked for.
type Cache interface {
	Get(ctx context.Context, workflowID, revision string) (*EffectiveWorkflow, error)
	Set(ctx context.Context, revision string, view EffectiveWorkflow) error
	Invalidate(ctx context.Context, workflowID string) error
}

// Indexer receives resolved views for search.
type Indexer interface {
	IndexWorkflow(view EffectiveWorkflow)
}
