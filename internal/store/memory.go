package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rloza/tramite/pkg/schema"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Documents are deep-copied on read and write so callers never share state
// with the store, matching the isolation of a real document store.
type MemoryStore struct {
	mu            sync.RWMutex
	procedures    map[string]*schema.Procedure
	runs          map[string]*schema.Run
	processGroups map[string]*schema.ProcessGroup
	processRuns   map[string]*schema.ProcessRun
	tasks         map[string]*Task
	notifications []*Notification
	collections   map[string]*Collection
	records       map[string]*Record
	staff         map[string]*StaffMember
	events        []*UsageEvent
	triggers      map[string]*ScheduledTrigger
	eventSeq      int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		procedures:    make(map[string]*schema.Procedure),
		runs:          make(map[string]*schema.Run),
		processGroups: make(map[string]*schema.ProcessGroup),
		processRuns:   make(map[string]*schema.ProcessRun),
		tasks:         make(map[string]*Task),
		collections:   make(map[string]*Collection),
		records:       make(map[string]*Record),
		staff:         make(map[string]*StaffMember),
		triggers:      make(map[string]*ScheduledTrigger),
	}
}

// deepCopy round-trips a document through JSON to detach it from the caller.
func deepCopy[T any](src *T) *T {
	if src == nil {
		return nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil
	}
	dst := new(T)
	if err := json.Unmarshal(b, dst); err != nil {
		return nil
	}
	return dst
}

// --- Procedures ---

func (s *MemoryStore) CreateProcedure(_ context.Context, p *schema.Procedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.procedures[p.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "procedure already exists: %s", p.ID)
	}
	s.procedures[p.ID] = deepCopy(p)
	return nil
}

func (s *MemoryStore) GetProcedure(_ context.Context, id string) (*schema.Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procedures[id]
	if !ok {
		return nil, notFound("procedure", id)
	}
	return deepCopy(p), nil
}

func (s *MemoryStore) ListProcedures(_ context.Context, orgID string) ([]*schema.Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Procedure
	for _, p := range s.procedures {
		if orgID == "" || p.OrganizationID == orgID {
			out = append(out, deepCopy(p))
		}
	}
	return out, nil
}

// --- Runs ---

func (s *MemoryStore) CreateRun(_ context.Context, r *schema.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run already exists: %s", r.ID)
	}
	s.runs[r.ID] = deepCopy(r)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	return deepCopy(r), nil
}

// UpdateRun writes the run back, merging its log entries with the stored
// document so interleaved completions never erase each other's entries.
func (s *MemoryStore) UpdateRun(_ context.Context, r *schema.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[r.ID]
	if !ok {
		return notFound("run", r.ID)
	}
	cp := deepCopy(r)
	cp.Logs = mergeRunLogs(existing.Logs, cp.Logs)
	cp.UpdatedAt = time.Now().UTC()
	s.runs[r.ID] = cp
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]*schema.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.Run
	for _, r := range s.runs {
		if filter.OrganizationID != "" && r.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.ProcedureID != "" && r.ProcedureID != filter.ProcedureID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		out = append(out, deepCopy(r))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Process chains ---

func (s *MemoryStore) CreateProcessGroup(_ context.Context, g *schema.ProcessGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processGroups[g.ID] = deepCopy(g)
	return nil
}

func (s *MemoryStore) GetProcessGroup(_ context.Context, id string) (*schema.ProcessGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.processGroups[id]
	if !ok {
		return nil, notFound("process group", id)
	}
	return deepCopy(g), nil
}

func (s *MemoryStore) CreateProcessRun(_ context.Context, pr *schema.ProcessRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processRuns[pr.ID] = deepCopy(pr)
	return nil
}

func (s *MemoryStore) GetProcessRun(_ context.Context, id string) (*schema.ProcessRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.processRuns[id]
	if !ok {
		return nil, notFound("process run", id)
	}
	return deepCopy(pr), nil
}

func (s *MemoryStore) UpdateProcessRun(_ context.Context, pr *schema.ProcessRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processRuns[pr.ID]; !ok {
		return notFound("process run", pr.ID)
	}
	cp := deepCopy(pr)
	cp.UpdatedAt = time.Now().UTC()
	s.processRuns[pr.ID] = cp
	return nil
}

// --- Tasks and notifications ---

func (s *MemoryStore) CreateTask(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = deepCopy(t)
	return nil
}

func (s *MemoryStore) FindOpenTask(_ context.Context, runID, stepID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.RunID == runID && t.StepID == stepID && t.Status == "open" {
			return deepCopy(t), nil
		}
	}
	return nil, notFound("task", runID+"/"+stepID)
}

func (s *MemoryStore) CompleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return notFound("task", id)
	}
	now := time.Now().UTC()
	t.Status = "done"
	t.CompletedAt = &now
	return nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, deepCopy(n))
	return nil
}

// Notifications returns all notifications, for tests.
func (s *MemoryStore) Notifications() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Notification, len(s.notifications))
	for i, n := range s.notifications {
		out[i] = deepCopy(n)
	}
	return out
}

// --- Collections and records ---

func (s *MemoryStore) CreateCollection(_ context.Context, c *Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[c.ID] = deepCopy(c)
	return nil
}

func (s *MemoryStore) GetCollectionByName(_ context.Context, orgID, name string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.collections {
		if c.OrganizationID == orgID && c.Name == name {
			return deepCopy(c), nil
		}
	}
	return nil, notFound("collection", name)
}

func (s *MemoryStore) GetCollection(_ context.Context, id string) (*Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[id]
	if !ok {
		return nil, notFound("collection", id)
	}
	return deepCopy(c), nil
}

func (s *MemoryStore) InsertRecord(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = deepCopy(r)
	return nil
}

func (s *MemoryStore) ListRecords(_ context.Context, collectionID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if r.CollectionID == collectionID {
			out = append(out, deepCopy(r))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- Staff ---

func (s *MemoryStore) GetStaff(_ context.Context, id string) (*StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.staff[id]
	if !ok {
		return nil, notFound("staff", id)
	}
	return deepCopy(m), nil
}

func (s *MemoryStore) ListStaff(_ context.Context, orgID string) ([]*StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*StaffMember
	for _, m := range s.staff {
		if orgID == "" || m.OrganizationID == orgID {
			out = append(out, deepCopy(m))
		}
	}
	return out, nil
}

// AddStaff seeds a staff member, for tests.
func (s *MemoryStore) AddStaff(m *StaffMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[m.ID] = deepCopy(m)
}

// --- Usage events ---

func (s *MemoryStore) AppendEvent(_ context.Context, ev *UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventSeq++
	cp := deepCopy(ev)
	cp.ID = s.eventSeq
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, cp)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, runID string) ([]*UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UsageEvent
	for _, ev := range s.events {
		if runID == "" || ev.RunID == runID {
			out = append(out, deepCopy(ev))
		}
	}
	return out, nil
}

// --- Scheduled triggers ---

func (s *MemoryStore) CreateScheduledTrigger(_ context.Context, t *ScheduledTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[t.ID] = deepCopy(t)
	return nil
}

func (s *MemoryStore) ListScheduledTriggers(_ context.Context, enabledOnly bool) ([]*ScheduledTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScheduledTrigger
	for _, t := range s.triggers {
		if enabledOnly && !t.Enabled {
			continue
		}
		out = append(out, deepCopy(t))
	}
	return out, nil
}

func (s *MemoryStore) UpdateScheduledTrigger(_ context.Context, t *ScheduledTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; !ok {
		return notFound("scheduled trigger", t.ID)
	}
	s.triggers[t.ID] = deepCopy(t)
	return nil
}

// --- Maintenance ---

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

var _ Store = (*MemoryStore)(nil)
