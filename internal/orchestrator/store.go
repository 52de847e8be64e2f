package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vimani/internal/model"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// RunStore keeps live run state in memory. Once limit runs are held the
// oldest is evicted.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]*model.RunState
	order []string
	limit int
	now   func() time.Time
}

func NewRunStore(limit int) *RunStore {
	return &RunStore{
		runs:  make(map[string]*model.RunState),
		limit: limit,
		now:   time.Now,
	}
}

// Create registers a new run in phase CREATED.
func (s *RunStore) Create(toolKey, intent string) *model.RunState {
	now := s.now().UTC()
	st := &model.RunState{
		RunID:            uuid.NewString(),
		ToolKey:          toolKey,
		Intent:           intent,
		Phase:            model.PhaseCreated,
		Conversation:     []model.Message{},
		ValidationErrors: []model.ValidationError{},
		ExecTrace:        []model.ExecEvent{},
		StepStatus:       map[string]model.StepStatus{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[st.RunID] = st
	s.order = append(s.order, st.RunID)
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return st.Clone()
}

// Update applies fn to the stored state under the write lock.
func (s *RunStore) Update(runID string, fn func(*model.RunState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	fn(st)
	st.UpdatedAt = s.now().UTC()
	return nil
}

func (s *RunStore) Get(runID string) (*model.RunState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// List returns every held run, newest first.
func (s *RunStore) List() []*model.RunState {
	s.mu.RLock()
	out := make([]*model.RunState, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, st.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *RunStore) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
