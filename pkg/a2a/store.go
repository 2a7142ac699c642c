package a2a

import (
	"context"
	"maps"
	"sync"
)

// taskStore holds tasks and the cancel funcs of running executions.
type taskStore struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	running map[string]context.CancelFunc
}

func newTaskStore() *taskStore {
	return &taskStore{
		tasks:   make(map[string]*Task),
		running: make(map[string]context.CancelFunc),
	}
}

// apply folds ev into the store. It returns false when ev was dropped
// because its task had already reached a terminal state.
func (s *taskStore) apply(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case *Task:
		if cur, ok := s.tasks[e.ID]; ok {
			if cur.Status.State.Terminal() {
				return false
			}
			cur.Status = e.Status
			return true
		}
		t := cloneTask(e)
		s.tasks[e.ID] = &t
		return true
	case *StatusUpdateEvent:
		cur, ok := s.tasks[e.TaskID]
		if !ok {
			cur = &Task{Kind: "task", ID: e.TaskID, ContextID: e.ContextID}
			s.tasks[e.TaskID] = cur
		}
		if cur.Status.State.Terminal() {
			return false
		}
		cur.Status = e.Status
		if e.Status.State.Terminal() {
			if e.Status.Message != nil {
				cur.History = append(cur.History, e.Status.Message)
			}
			if len(e.Metadata) > 0 {
				if cur.Metadata == nil {
					cur.Metadata = make(map[string]any, len(e.Metadata))
				}
				maps.Copy(cur.Metadata, e.Metadata)
			}
		}
		return true
	}
	return false
}

func (s *taskStore) get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return cloneTask(t), true
}

// claim reserves id for one execution. It reports false while another
// execution of id is in progress.
func (s *taskStore) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = func() {}
	return true
}

func (s *taskStore) setRunning(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[id] = cancel
}

// stopRunning removes and returns the cancel func for id, if any.
func (s *taskStore) stopRunning(id string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel := s.running[id]
	delete(s.running, id)
	return cancel
}

func cloneTask(t *Task) Task {
	c := *t
	c.History = append([]*Message(nil), t.History...)
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	return c
}
