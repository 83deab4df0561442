package mocks

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// ReplicationPeer is a scripted ports.ReplicationPeer.
type ReplicationPeer struct {
	mu sync.Mutex

	Result  ports.JoinResult
	JoinErr error
	// CompleteAfter is the number of TaskStatus polls after which the
	// repair task reports done. Negative means never.
	CompleteAfter int
	ExitCode      int
	StartErr      error

	joins []ports.JoinRequest
	tasks []string
	polls int
}

// Join records the request and returns the scripted result.
func (p *ReplicationPeer) Join(_ context.Context, req ports.JoinRequest) (ports.JoinResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins = append(p.joins, req)
	if p.JoinErr != nil {
		return ports.JoinResult{}, p.JoinErr
	}
	return p.Result, nil
}

// StartRepairTask records the task name.
func (p *ReplicationPeer) StartRepairTask(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StartErr != nil {
		return "", p.StartErr
	}
	p.tasks = append(p.tasks, name)
	return "cn=" + name + ",cn=memberof task,cn=tasks,cn=config", nil
}

// TaskStatus counts polls and reports done once CompleteAfter is reached.
func (p *ReplicationPeer) TaskStatus(_ context.Context, _ string) (ports.TaskStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.CompleteAfter >= 0 && p.polls >= p.CompleteAfter {
		return ports.TaskStatus{Done: true, ExitCode: p.ExitCode}, nil
	}
	return ports.TaskStatus{}, nil
}

// Joins returns the recorded join requests.
func (p *ReplicationPeer) Joins() []ports.JoinRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.JoinRequest(nil), p.joins...)
}

// Tasks returns the names of started repair tasks.
func (p *ReplicationPeer) Tasks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tasks...)
}

// Polls returns the number of TaskStatus calls.
func (p *ReplicationPeer) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

var _ ports.ReplicationPeer = (*ReplicationPeer)(nil)
