// Package uninstall undoes an installation from its recorded state.
package uninstall

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/domain/state"
	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// Handler restores one backed-up setting. The record has already been
// removed from the store when the handler runs.
type Handler func(ctx context.Context, rec state.Record) error

// ActionResult is the outcome of one independent cleanup action.
type ActionResult struct {
	Label string
	Err   error
}

// Failed reports whether the action failed.
func (r ActionResult) Failed() bool {
	return r.Err != nil
}

// Report lists every attempted action in execution order.
type Report struct {
	Results []ActionResult
}

// Failures returns the failed actions.
func (r Report) Failures() []ActionResult {
	var failed []ActionResult
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Labels returns the labels of every attempted action.
func (r Report) Labels() []string {
	labels := make([]string, len(r.Results))
	for i, res := range r.Results {
		labels[i] = res.Label
	}
	return labels
}

// PartialFailure is returned when one or more cleanup actions failed. The
// remaining actions were still attempted.
type PartialFailure struct {
	Warnings []ActionResult
}

// Error implements error.
func (e *PartialFailure) Error() string {
	parts := make([]string, len(e.Warnings))
	for i, w := range e.Warnings {
		parts[i] = fmt.Sprintf("%s: %v", w.Label, w.Err)
	}
	return fmt.Sprintf("uninstall finished with %d warning(s): %s", len(e.Warnings), strings.Join(parts, "; "))
}

// Unwrap returns the individual action errors.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, len(e.Warnings))
	for i, w := range e.Warnings {
		errs[i] = w.Err
	}
	return errs
}

type prefixHandler struct {
	prefix  string
	handler Handler
}

type finalizer struct {
	label string
	fn    func(ctx context.Context) error
}

// Orchestrator replays a state store in reverse backup order. It touches
// only the namespace of the store it was given.
type Orchestrator struct {
	store      state.Store
	handlers   map[string]Handler
	prefixes   []prefixHandler
	finalizers []finalizer
	logger     ports.Logger
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store state.Store, logger ports.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register sets the handler for a key. Keys without a handler are consumed
// without further action.
func (o *Orchestrator) Register(key string, h Handler) {
	o.handlers[key] = h
}

// RegisterPrefix sets the handler for every key starting with prefix.
// Exact registrations win over prefixes.
func (o *Orchestrator) RegisterPrefix(prefix string, h Handler) {
	o.prefixes = append(o.prefixes, prefixHandler{prefix: prefix, handler: h})
}

// AddFinalizer adds an action run after all records were replayed.
func (o *Orchestrator) AddFinalizer(label string, fn func(ctx context.Context) error) {
	o.finalizers = append(o.finalizers, finalizer{label: label, fn: fn})
}

// Run restores every outstanding backup, newest first, then runs the
// finalizers. Every action is attempted; failures are collected into a
// *PartialFailure. Only an unreadable store aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	var report Report

	records, err := o.store.Backups(ctx)
	if err != nil {
		return report, fmt.Errorf("reading installation state: %w", err)
	}

	for i := len(records) - 1; i >= 0; i-- {
		key := records[i].Key
		label := "restore " + key
		report.Results = append(report.Results, ActionResult{
			Label: label,
			Err:   o.restore(ctx, key),
		})
	}

	for _, f := range o.finalizers {
		report.Results = append(report.Results, ActionResult{
			Label: f.label,
			Err:   o.attempt(ctx, f.label, f.fn),
		})
	}

	failures := report.Failures()
	if len(failures) > 0 {
		for _, f := range failures {
			o.logger.Warn(ctx, "cleanup action failed", ports.F("action", f.Label), ports.Err(f.Err))
		}
		return report, &PartialFailure{Warnings: failures}
	}
	return report, nil
}

func (o *Orchestrator) restore(ctx context.Context, key string) error {
	rec, err := o.store.Restore(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		o.logger.Debug(ctx, "nothing to undo", ports.F("key", key))
		return nil
	}
	if err != nil {
		return err
	}

	h := o.handlerFor(key)
	if h == nil {
		o.logger.Debug(ctx, "state consumed", ports.F("key", key))
		return nil
	}
	return o.attempt(ctx, "restore "+key, func(ctx context.Context) error {
		return h(ctx, rec)
	})
}

func (o *Orchestrator) handlerFor(key string) Handler {
	if h, ok := o.handlers[key]; ok {
		return h
	}
	for _, p := range o.prefixes {
		if strings.HasPrefix(key, p.prefix) {
			return p.handler
		}
	}
	return nil
}

// attempt runs fn and converts a panic into an error so one broken action
// cannot stop the remaining cleanup.
func (o *Orchestrator) attempt(ctx context.Context, label string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", label, r)
		}
	}()
	o.logger.Debug(ctx, "running cleanup action", ports.F("action", label))
	return fn(ctx)
}
