package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/reconlog"
)

// Step is a single unit of work of a reconciliation attempt. Compensate undoes
// the effects of a successful Execute when a later step fails.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// errHalt stops an attempt early without rolling anything back. Steps return
// it once the outcome is already known, for example on duplicate delivery.
var errHalt = errors.New("halt")

// Orchestrator runs steps in order and compensates the successful ones (LIFO)
// when a step fails. Every transition is appended to the reconciliation log.
type Orchestrator struct {
	steps     []Step
	log       reconlog.Repository
	attemptID string
	reference string
}

// NewOrchestrator returns an Orchestrator running steps in order for one
// attempt. log may be nil to skip the audit trail.
func NewOrchestrator(log reconlog.Repository, attemptID, reference string, steps ...Step) *Orchestrator {
	return &Orchestrator{steps: steps, log: log, attemptID: attemptID, reference: reference}
}

// Start returns nil when all steps ran or one of them halted the attempt.
func (o *Orchestrator) Start(ctx context.Context, payload string) error {
	o.record(ctx, reconlog.StatusStarted, "", payload, nil)

	var done []Step
	for _, step := range o.steps {
		slog.DebugContext(ctx, "executing step", "reference", o.reference, "step", step.Name())
		err := step.Execute(ctx)
		if errors.Is(err, errHalt) {
			o.record(ctx, reconlog.StatusHalted, step.Name(), "", nil)
			return nil
		}
		if err != nil {
			slog.WarnContext(ctx, "step failed, compensating",
				"reference", o.reference, "step", step.Name(), "error", err)
			errs := []string{fmt.Sprintf("%s: %v", step.Name(), err)}
			if len(done) > 0 {
				o.record(ctx, reconlog.StatusCompensating, step.Name(), "", errs)
				errs = append(errs, o.rollback(ctx, done)...)
			}
			o.record(ctx, reconlog.StatusFailed, step.Name(), "", errs)
			return err
		}
		done = append(done, step)
		o.record(ctx, reconlog.StatusStepDone, step.Name(), "", nil)
	}

	o.record(ctx, reconlog.StatusCompleted, "", "", nil)
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, steps []Step) []string {
	var errs []string
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.Compensate(ctx); err != nil {
			slog.ErrorContext(ctx, "compensation failed",
				"reference", o.reference, "step", step.Name(), "error", err)
			errs = append(errs, fmt.Sprintf("compensate %s: %v", step.Name(), err))
		}
	}
	return errs
}

func (o *Orchestrator) record(ctx context.Context, status reconlog.Status, step, payload string, errs []string) {
	if o.log == nil {
		return
	}
	entry := reconlog.NewEntry(ctx, o.attemptID, o.reference, status, step, payload, errs)
	if err := o.log.Save(ctx, entry); err != nil {
		slog.WarnContext(ctx, "reconciliation log write failed",
			"reference", o.reference, "status", status, "error", err)
	}
}
