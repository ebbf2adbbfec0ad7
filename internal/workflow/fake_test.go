package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

type fakeRepo struct {
	mu        sync.Mutex
	workflows map[string]Workflow
	versions  map[string][]Version
	overrides map[string][]Override
	notes     map[string][]OwnerNote
	calls     int
	getErr    error

	// beforeListNotes runs outside the lock, letting tests pause a resolve
	// after the version and override have been read.
	beforeListNotes func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		workflows: make(map[string]Workflow),
		versions:  make(map[string][]Version),
		overrides: make(map[string][]Override),
		notes:     make(map[string][]OwnerNote),
	}
}

func (f *fakeRepo) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	wf, ok := f.workflows[id]
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

func (f *fakeRepo) GetLatestVersion(_ context.Context, id string) (*Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestLocked(id), nil
}

func (f *fakeRepo) latestLocked(id string) *Version {
	var latest *Version
	for i := range f.versions[id] {
		v := f.versions[id][i]
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = &v
		}
	}
	return latest
}

func (f *fakeRepo) GetActiveOverride(_ context.Context, id string) (*Override, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.overrides[id] {
		if o.Status == OverrideActive {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetRevision(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return "", nil
	}
	parts := []string{wf.UpdatedAt.Format(time.RFC3339Nano), "", ""}
	if v := f.latestLocked(id); v != nil {
		parts[1] = v.ID
	}
	for _, o := range f.overrides[id] {
		if o.Status == OverrideActive {
			parts[2] = o.ID
		}
	}
	for _, n := range f.notes[id] {
		if n.IsActive {
			parts = append(parts, n.ID)
		}
	}
	return strings.Join(parts, "|"), nil
}

func (f *fakeRepo) addVersion(v Version) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[v.WorkflowID] = append(f.versions[v.WorkflowID], v)
}

func (f *fakeRepo) ListActiveOwnerNotes(_ context.Context, id string) ([]OwnerNote, error) {
	if f.beforeListNotes != nil {
		f.beforeListNotes()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OwnerNote, 0)
	for _, n := range f.notes[id] {
		if n.IsActive {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveWorkflowIDs(_ context.Context, orgID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for id, wf := range f.workflows {
		if wf.OrgID == orgID && wf.Status == "active" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeRepo) ReplaceOverride(_ context.Context, created Override, archivedAt time.Time) (*Override, Override, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var archived *Override
	list := f.overrides[created.WorkflowID]
	for i := range list {
		if list[i].Status == OverrideActive {
			list[i].Status = OverrideArchived
			at := archivedAt
			list[i].ArchivedAt = &at
			copied := list[i]
			archived = &copied
		}
	}
	f.overrides[created.WorkflowID] = append(list, created)
	return archived, created, nil
}

func (f *fakeRepo) InsertOwnerNote(_ context.Context, note OwnerNote) (OwnerNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[note.WorkflowID] = append(f.notes[note.WorkflowID], note)
	return note, nil
}

func (f *fakeRepo) DeactivateOwnerNote(_ context.Context, workflowID, noteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notes[workflowID] {
		if f.notes[workflowID][i].ID == noteID {
			f.notes[workflowID][i].IsActive = false
			return nil
		}
	}
	return ErrNoteNotFound
}

func (f *fakeRepo) activeOverrides(workflowID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.overrides[workflowID] {
		if o.Status == OverrideActive {
			n++
		}
	}
	return n
}

type cachedView struct {
	revision string
	view     EffectiveWorkflow
}

type memoryCache struct {
	mu          sync.Mutex
	items       map[string]cachedView
	invalidated []string
	getErr      error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]cachedView)}
}

func (c *memoryCache) Get(_ context.Context, id, revision string) (*EffectiveWorkflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	entry, ok := c.items[id]
	if !ok || entry.revision != revision {
		return nil, nil
	}
	return &entry.view, nil
}

func (c *memoryCache) Set(_ context.Context, revision string, view EffectiveWorkflow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[view.ID] = cachedView{revision: revision, view: view}
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type recordingIndexer struct {
	mu    sync.Mutex
	views []EffectiveWorkflow
}

func (r *recordingIndexer) IndexWorkflow(view EffectiveWorkflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
}

var errBoom = errors.New("boom")
