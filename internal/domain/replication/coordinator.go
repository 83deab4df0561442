package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// State is a bootstrap state.
type State string

// Bootstrap states.
const (
	StateInit                    State = "init"
	StateCredentialSelected      State = "credential_selected"
	StateAgreementEstablished    State = "agreement_established"
	StateConsistencyCheckPending State = "consistency_check_pending"
	StateDone                    State = "done"
	StateFailed                  State = "failed"
)

// Event types for the bootstrap state machine.
const (
	EventCredentialSelected = "CREDENTIAL_SELECTED"
	EventJoined             = "JOINED"
	EventRepairRequired     = "REPAIR_REQUIRED"
	EventCompleted          = "COMPLETED"
	EventFailed             = "FAILED"
)

// Defaults for repair task polling.
const (
	DefaultPollInterval = time.Second
	DefaultPollBound    = time.Hour
)

// Request describes one bootstrap attempt.
type Request struct {
	// Peer is the address of the existing node.
	Peer        string
	DomainLevel DomainLevel
	// AdminSecret is the directory manager password. Required at the floor
	// level only.
	AdminSecret string
	// ServiceIdentity is the node's own directory identity used for
	// delegated binds.
	ServiceIdentity string
	TrustAnchor     []byte
	// LocalHost is the joining node's host name.
	LocalHost string
}

// Outcome is the result of a bootstrap.
type Outcome struct {
	State           State
	Agreement       Agreement
	AgreementDN     string
	RepairPerformed bool
	Polls           int
	// Err is the failure recorded when State is StateFailed.
	Err error
}

// machineContext is the statekit context of one bootstrap.
type machineContext struct {
	Err error
}

// Coordinator runs the replication bootstrap against a peer.
type Coordinator struct {
	peer         ports.ReplicationPeer
	logger       ports.Logger
	clock        clock.Clock
	pollInterval time.Duration
	pollBound    time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for repair polling.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

// WithPollInterval sets the delay between repair task polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.pollInterval = d
	}
}

// WithPollBound sets the longest time to wait for the repair task.
func WithPollBound(d time.Duration) Option {
	return func(c *Coordinator) {
		c.pollBound = d
	}
}

// NewCoordinator creates a coordinator talking to peer.
func NewCoordinator(peer ports.ReplicationPeer, logger ports.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		peer:         peer,
		logger:       logger,
		clock:        clock.WallClock,
		pollInterval: DefaultPollInterval,
		pollBound:    DefaultPollBound,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func stateID(s State) statekit.StateID {
	return statekit.StateID(s)
}

func buildMachine() (*statekit.Interpreter[machineContext], error) {
	machine, err := statekit.NewMachine[machineContext]("replication-bootstrap").
		WithInitial(stateID(StateInit)).
		WithContext(machineContext{}).
		WithAction("recordError", func(mctx *machineContext, event statekit.Event) {
			if err, ok := event.Payload.(error); ok {
				mctx.Err = err
			}
		}).
		State(stateID(StateInit)).
		On(EventCredentialSelected).Target(stateID(StateCredentialSelected)).
		On(EventFailed).Target(stateID(StateFailed)).Done().
		State(stateID(StateCredentialSelected)).
		On(EventJoined).Target(stateID(StateAgreementEstablished)).
		On(EventFailed).Target(stateID(StateFailed)).Done().
		State(stateID(StateAgreementEstablished)).
		On(EventRepairRequired).Target(stateID(StateConsistencyCheckPending)).
		On(EventCompleted).Target(stateID(StateDone)).
		On(EventFailed).Target(stateID(StateFailed)).Done().
		State(stateID(StateConsistencyCheckPending)).
		On(EventCompleted).Target(stateID(StateDone)).
		On(EventFailed).Target(stateID(StateFailed)).Done().
		State(stateID(StateDone)).Done().
		State(stateID(StateFailed)).
		OnEntry("recordError").Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

type run struct {
	interp *statekit.Interpreter[machineContext]
}

func (r *run) send(event string) {
	r.interp.Send(statekit.Event{Type: statekit.EventType(event)})
}

func (r *run) fail(err error) error {
	r.interp.Send(statekit.Event{Type: EventFailed, Payload: err})
	return err
}

// err returns the failure recorded by the machine, if any.
func (r *run) err() error {
	return r.interp.State().Context.Err
}

func (r *run) state() State {
	return State(r.interp.State().Value)
}

// Bootstrap establishes replication with the peer and, when the peer asks
// for it, runs the consistency repair task to completion.
func (c *Coordinator) Bootstrap(ctx context.Context, req Request) (Outcome, error) {
	interp, err := buildMachine()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build state machine: %w", err)
	}
	interp.Start()
	defer interp.Stop()
	r := &run{interp: interp}

	outcome := Outcome{State: StateInit}
	finish := func(err error) (Outcome, error) {
		outcome.State = r.state()
		outcome.Err = r.err()
		return outcome, err
	}

	agreement, err := SelectAgreement(req.Peer, req.DomainLevel, req.AdminSecret, req.ServiceIdentity, req.TrustAnchor)
	if err != nil {
		return finish(r.fail(err))
	}
	outcome.Agreement = agreement
	r.send(EventCredentialSelected)
	c.logger.Info(ctx, "replication credential selected",
		ports.F("peer", agreement.Peer()),
		ports.F("mode", agreement.Mode().String()),
		ports.F("domain_level", int(req.DomainLevel)))

	result, err := c.peer.Join(ctx, ports.JoinRequest{
		PeerAddress: agreement.Peer(),
		LocalHost:   req.LocalHost,
		Credential:  agreement.Credential(),
		TrustAnchor: agreement.TrustAnchor(),
	})
	if err != nil {
		return finish(r.fail(classifyJoinError(agreement, err)))
	}
	outcome.AgreementDN = result.AgreementDN
	r.send(EventJoined)
	c.logger.Info(ctx, "replication agreement established", ports.F("peer", agreement.Peer()))

	if !result.NeedsRepair {
		r.send(EventCompleted)
		return finish(nil)
	}

	r.send(EventRepairRequired)
	outcome.RepairPerformed = true
	polls, err := c.repair(ctx)
	outcome.Polls = polls
	if err != nil {
		return finish(r.fail(err))
	}
	r.send(EventCompleted)
	return finish(nil)
}

func classifyJoinError(agreement Agreement, err error) error {
	var joinErr *ports.JoinError
	if errors.As(err, &joinErr) && joinErr.Kind == ports.JoinFailureAuthentication {
		return &AuthenticationError{Peer: agreement.Peer(), Mode: agreement.Mode(), Err: err}
	}
	return &TransportError{Peer: agreement.Peer(), Err: err}
}

// repair starts the repair task and waits for it. It returns the number of
// status polls made.
func (c *Coordinator) repair(ctx context.Context) (int, error) {
	name := "dsinstall repair " + uuid.NewString()
	task, err := c.peer.StartRepairTask(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("starting consistency repair task: %w", err)
	}
	c.logger.Info(ctx, "waiting for consistency repair task", ports.F("task", task))

	poller := NewPoller(c.clock, c.pollInterval, c.pollBound, c.logger)
	polls, err := poller.Wait(ctx, task, c.peer.TaskStatus)
	if err != nil {
		return polls, err
	}
	c.logger.Info(ctx, "consistency repair task finished", ports.F("task", task), ports.F("polls", polls))
	return polls, nil
}
