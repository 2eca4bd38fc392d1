package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/InsereNomen/AlderSync/internal/inventory"
	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"golang.org/x/sync/errgroup"
)

// ApplyOptions carries the caller decisions for ApplyTransaction
type ApplyOptions struct {
	// Resolutions overrides the default winner of conflicts
	Resolutions inventory.ResolutionMap
	Transfer    Transfer
}

// ApplyTransaction executes the plan. Deletions run first in plan order, then
// writes run on a bounded worker pool. Per-file problems are reported and the
// transaction goes on; a store failure, a cancelled context or a lost lock stop
// it and leave the remaining actions unapplied.
func (o *Orchestrator) ApplyTransaction(ctx context.Context, id string, opts ApplyOptions) (*Result, error) {
	tx, err := o.get(id)
	if err != nil {
		return nil, err
	}
	if opts.Transfer == nil {
		return nil, errors.New("apply needs a transfer")
	}
	if err := opts.Resolutions.Validate(tx.Plan()); err != nil {
		return nil, err
	}
	if err := tx.transition(StateApplying, StatePlanning); err != nil {
		return nil, err
	}

	plan := opts.Resolutions.Apply(tx.Plan())
	res := &Result{
		TransactionID: tx.ID,
		ServiceType:   tx.ServiceType,
		Mode:          tx.Mode,
		StartedAt:     o.clock.Now().UTC(),
		Actions:       make([]ActionResult, len(plan.Actions)),
	}

	a := &applier{
		o:        o,
		tx:       tx,
		transfer: opts.Transfer,
	}
	a.changelist(ctx, plan)

	applyCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var writes []int
	for i, action := range plan.Actions {
		if !tx.Mode.Allows(action) {
			res.Actions[i] = ActionResult{
				Action:  action,
				Outcome: OutcomeSkipped,
				Error:   fmt.Sprintf("%s does not allow this direction", tx.Mode),
			}
			continue
		}
		switch action.Kind {
		case synctypes.ActionDeleteLocal, synctypes.ActionDeleteRemote:
			res.Actions[i] = a.run(applyCtx, cancel, action)
		default:
			writes = append(writes, i)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.ApplyWorkers)
	for _, i := range writes {
		action := plan.Actions[i]
		g.Go(func() error {
			res.Actions[i] = a.run(applyCtx, cancel, action)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	tx.setState(StateCommitting)

	res.Status = StateCommitted
	if applyCtx.Err() != nil {
		res.Err = context.Cause(applyCtx)
		if res.Err == nil || errors.Is(res.Err, context.Canceled) && ctx.Err() != nil {
			res.Err = ctx.Err()
		}
	}
	if res.Err != nil {
		res.Status = StateRolledBack
		if res.anyApplied() {
			res.Status = StatePartialIncomplete
		}
	}

	o.finish(ctx, tx, res)
	return res, nil
}

type applier struct {
	o            *Orchestrator
	tx           *Transaction
	transfer     Transfer
	changelistID int64
}

// changelist opens a changelist when the plan pushes content to the server
func (a *applier) changelist(ctx context.Context, plan synctypes.ActionPlan) {
	if a.o.audit == nil {
		return
	}
	for _, action := range plan.Actions {
		if action.PushesToServer() && action.Kind != synctypes.ActionDeleteRemote {
			id, err := a.o.audit.CreateChangelist(ctx, a.tx, a.o.clock.Now())
			if err != nil {
				slog.Error("changelist create", "tx", a.tx.ID, "error", err)
				return
			}
			a.changelistID = id
			return
		}
	}
}

// run checks that the transaction may go on and applies one action.
// A fatal error cancels ctx with that error as the cause.
func (a *applier) run(ctx context.Context, abort context.CancelCauseFunc, action synctypes.Action) ActionResult {
	if err := ctx.Err(); err != nil {
		return unapplied(action, context.Cause(ctx))
	}
	if err := a.o.locks.Check(a.tx.LockID); err != nil {
		abort(err)
		return unapplied(action, err)
	}

	// a started action always runs to completion
	ar, fatal := a.apply(context.WithoutCancel(ctx), action)
	if fatal != nil {
		abort(fatal)
	}
	if ar.Outcome != OutcomeApplied {
		slog.Warn("transaction action", "tx", a.tx.ID, "kind", action.Kind, "path", action.Path, "outcome", ar.Outcome, "error", ar.Error)
	}
	return ar
}

func (a *applier) apply(ctx context.Context, action synctypes.Action) (ActionResult, error) {
	switch action.Kind {
	case synctypes.ActionUpload:
		return a.upload(ctx, action)
	case synctypes.ActionDownload:
		return a.download(ctx, action)
	case synctypes.ActionDeleteLocal:
		err := a.transfer.Deliver(ctx, Delivery{Action: action})
		return outcome(action, nil, err)
	case synctypes.ActionDeleteRemote:
		rec, err := a.o.store.Delete(ctx, a.tx.ServiceType, action.Path, a.tx.Owner)
		return outcome(action, rec, err)
	case synctypes.ActionConflict:
		if action.Resolution != nil && action.Resolution.Winner == synctypes.WinnerClient {
			return a.upload(ctx, action)
		}
		return a.keepServer(ctx, action)
	}
	return ActionResult{Action: action, Outcome: OutcomeFailed, Error: "unknown action"}, nil
}

func (a *applier) upload(ctx context.Context, action synctypes.Action) (ActionResult, error) {
	body, err := a.transfer.Fetch(ctx, action.Path)
	if err != nil {
		return outcome(action, nil, fmt.Errorf("fetch client copy: %w", err))
	}
	defer body.Close()

	rec, err := a.o.store.Put(ctx, a.tx.ServiceType, action.Path, body, a.putOptions(action))
	ar, fatal := outcome(action, rec, err)
	if ar.Record != nil {
		ar.Received = ar.Record.Size
	}
	return ar, fatal
}

func (a *applier) download(ctx context.Context, action synctypes.Action) (ActionResult, error) {
	rec, err := a.deliverCurrent(ctx, action)
	ar, fatal := outcome(action, rec, err)
	ar.Delivered = a.delivered(ar.Record)
	return ar, fatal
}

func (a *applier) delivered(rec *revision.FileRecord) int64 {
	if rec == nil || !deliversNow(a.transfer) {
		return 0
	}
	return rec.Size
}

// keepServer preserves the client copy as history, then delivers the server copy.
// Without a preserved client copy nothing is delivered.
func (a *applier) keepServer(ctx context.Context, action synctypes.Action) (ActionResult, error) {
	body, err := a.transfer.Fetch(ctx, action.Path)
	if err != nil {
		return outcome(action, nil, fmt.Errorf("fetch client copy: %w", err))
	}
	preserved, err := a.o.store.Preserve(ctx, a.tx.ServiceType, action.Path, body, a.putOptions(action))
	body.Close()
	if err != nil {
		return outcome(action, nil, err)
	}

	rec, err := a.deliverCurrent(ctx, action)
	ar, fatal := outcome(action, rec, err)
	ar.Preserved = preserved
	ar.Received = preserved.Size
	ar.Delivered = a.delivered(ar.Record)
	return ar, fatal
}

func (a *applier) deliverCurrent(ctx context.Context, action synctypes.Action) (*revision.FileRecord, error) {
	st := a.tx.ServiceType

	body, rec, err := a.o.store.Get(ctx, st, action.Path, nil)
	if err != nil {
		return nil, err
	}
	body.Close()

	rev := rec.Revision
	err = a.transfer.Deliver(ctx, Delivery{
		Action: action,
		Record: rec,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			body, _, err := a.o.store.Get(ctx, st, action.Path, &rev)
			return body, err
		},
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *applier) putOptions(action synctypes.Action) revision.PutOptions {
	opts := revision.PutOptions{
		Owner:        a.tx.Owner,
		ChangelistID: a.changelistID,
	}
	if action.Client != nil {
		opts.ModifiedAt = action.Client.ModifiedAt
		opts.ExpectedHash = action.Client.ContentHash
	}
	return opts
}

// outcome classifies err into the action result and the fatal error, if any
func outcome(action synctypes.Action, rec *revision.FileRecord, err error) (ActionResult, error) {
	ar := ActionResult{Action: action, Record: rec, Outcome: OutcomeApplied}
	if err == nil {
		return ar, nil
	}

	ar.Record = nil
	ar.Error = err.Error()
	switch {
	case errors.Is(err, synctypes.ErrIntegrity):
		ar.Outcome = OutcomeSkipped
		return ar, nil
	case errors.Is(err, synctypes.ErrStoreFailure):
		ar.Outcome = OutcomeFailed
		return ar, err
	}
	ar.Outcome = OutcomeFailed
	return ar, nil
}
