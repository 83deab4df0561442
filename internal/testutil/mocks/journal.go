package mocks

import "sync"

// Journal records events from several doubles in one ordered list.
type Journal struct {
	mu     sync.Mutex
	events []string
}

// Record appends an event. A nil journal ignores it.
func (j *Journal) Record(event string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
}

// Events returns the recorded events in order.
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}
