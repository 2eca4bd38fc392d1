package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/InsereNomen/AlderSync/internal/inventory"
	"github.com/InsereNomen/AlderSync/internal/lock"
	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Store is the part of the revision store a transaction writes through
type Store interface {
	Put(ctx context.Context, st synctypes.ServiceType, path string, content io.Reader, opts revision.PutOptions) (*revision.FileRecord, error)
	Get(ctx context.Context, st synctypes.ServiceType, path string, rev *int) (io.ReadCloser, *revision.FileRecord, error)
	Delete(ctx context.Context, st synctypes.ServiceType, path string, owner string) (*revision.FileRecord, error)
	Preserve(ctx context.Context, st synctypes.ServiceType, path string, content io.Reader, opts revision.PutOptions) (*revision.FileRecord, error)
	Restore(ctx context.Context, st synctypes.ServiceType, path string, rev int, owner string) (*revision.FileRecord, error)
	ListCurrent(ctx context.Context, st synctypes.ServiceType) (synctypes.ServerManifest, error)
	ListHistory(ctx context.Context, st synctypes.ServiceType, path string) ([]*revision.FileRecord, error)
}

// Locker grants exclusive access to a service type
type Locker interface {
	Acquire(st synctypes.ServiceType, est lock.Estimate, holder string) (*lock.Lock, error)
	Release(id string)
	Cancel(id string) error
	Check(id string) error
}

// Orchestrator runs pull, push and reconcile transactions
type Orchestrator struct {
	store   Store
	locks   Locker
	audit   *Audit
	staging *StagingArea
	ignore  *ignore.List
	cfg     Config
	clock   clockwork.Clock

	mu  sync.Mutex
	txs map[string]*Transaction
}

type Option func(*Orchestrator)

func WithAudit(a *Audit) Option {
	return func(o *Orchestrator) {
		o.audit = a
	}
}

// WithStaging removes a transaction's staged uploads once it ends
func WithStaging(s *StagingArea) Option {
	return func(o *Orchestrator) {
		o.staging = s
	}
}

// WithIgnore excludes matching paths from every plan
func WithIgnore(list *ignore.List) Option {
	return func(o *Orchestrator) {
		o.ignore = list
	}
}

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

func New(store Store, locks Locker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: store,
		locks: locks,
		cfg:   DefaultConfig(),
		clock: clockwork.NewRealClock(),
		txs:   make(map[string]*Transaction),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.ApplyWorkers < 1 {
		o.cfg.ApplyWorkers = 1
	}
	return o
}

// BeginTransaction validates the manifest, takes the service lock and computes
// the plan under it. The lock is held until the transaction is applied, rolled back or cancelled.
func (o *Orchestrator) BeginTransaction(ctx context.Context, req BeginRequest) (*Transaction, error) {
	mode, err := synctypes.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	manifest := req.Manifest
	if manifest.ServiceType == "" {
		manifest.ServiceType = req.ServiceType
	}
	if req.ServiceType != "" && manifest.ServiceType != req.ServiceType {
		return nil, fmt.Errorf("%w: manifest is for %s, not %s", synctypes.ErrInvalidManifest, manifest.ServiceType, req.ServiceType)
	}
	manifest.Entries = append([]synctypes.ClientEntry(nil), manifest.Entries...)
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	st := manifest.ServiceType

	tx := &Transaction{
		ID:          uuid.NewString(),
		ServiceType: st,
		Mode:        mode,
		Owner:       req.Owner,
		Description: req.Description,
		CreatedAt:   o.clock.Now().UTC(),
		state:       StateIdle,
	}

	// size the lock from a plan computed before taking it
	preliminary, _, err := o.plan(ctx, manifest, mode)
	if err != nil {
		return nil, err
	}

	tx.setState(StateLockPending)
	l, err := o.locks.Acquire(st, estimate(preliminary), req.Owner)
	if err != nil {
		return nil, err
	}
	tx.LockID = l.ID
	tx.setState(StateLocked)

	tx.setState(StatePlanning)
	plan, deferred, err := o.plan(ctx, manifest, mode)
	if err != nil {
		o.locks.Release(l.ID)
		return nil, err
	}
	tx.plan = plan
	tx.deferred = deferred

	o.mu.Lock()
	o.txs[tx.ID] = tx
	o.mu.Unlock()

	if o.audit != nil {
		if err := o.audit.StartOperation(ctx, tx); err != nil {
			slog.Error("audit start", "tx", tx.ID, "error", err)
		}
	}

	slog.Info("transaction begin", "tx", tx.ID, "service", st, "mode", mode, "owner", req.Owner,
		"actions", plan.Len(), "conflicts", plan.Count(synctypes.ActionConflict), "deferred", deferred.Len())
	return tx, nil
}

// plan compares the manifest with the store. Actions the mode leaves out are
// returned separately as deferred.
func (o *Orchestrator) plan(ctx context.Context, manifest synctypes.ClientManifest, mode synctypes.Mode) (synctypes.ActionPlan, synctypes.ActionPlan, error) {
	server, err := o.store.ListCurrent(ctx, manifest.ServiceType)
	if err != nil {
		return synctypes.ActionPlan{}, synctypes.ActionPlan{}, err
	}

	var opts []inventory.CompareOption
	if o.ignore != nil {
		opts = append(opts, inventory.WithIgnore(o.ignore))
	}
	full := inventory.Compare(server, manifest, opts...)

	filtered := synctypes.ActionPlan{Actions: make([]synctypes.Action, 0, full.Len())}
	deferred := synctypes.ActionPlan{Actions: []synctypes.Action{}}
	for _, a := range full.Actions {
		if mode.Allows(a) {
			filtered.Actions = append(filtered.Actions, a)
		} else {
			deferred.Actions = append(deferred.Actions, a)
		}
	}
	return filtered, deferred, nil
}

// GetPlan returns the plan of an open transaction
func (o *Orchestrator) GetPlan(id string) (synctypes.ActionPlan, error) {
	tx, err := o.get(id)
	if err != nil {
		return synctypes.ActionPlan{}, err
	}
	return tx.Plan(), nil
}

// Transaction returns an open transaction
func (o *Orchestrator) Transaction(id string) (*Transaction, error) {
	return o.get(id)
}

// RollbackTransaction abandons a transaction that was not applied and releases its lock
func (o *Orchestrator) RollbackTransaction(ctx context.Context, id string) (*Result, error) {
	tx, err := o.get(id)
	if err != nil {
		return nil, err
	}
	if err := tx.transition(StateCommitting, StatePlanning); err != nil {
		return nil, err
	}

	res := o.abandoned(tx, nil)
	o.finish(ctx, tx, res)
	return res, nil
}

// CancelTransaction is the administrative override. The lock is cancelled; a
// transaction that is applying stops before its next action, one that is
// waiting to be applied is rolled back right away.
func (o *Orchestrator) CancelTransaction(ctx context.Context, id string) error {
	tx, err := o.get(id)
	if err != nil {
		return err
	}

	if err := o.locks.Cancel(tx.LockID); err != nil && !errors.Is(err, synctypes.ErrNotFound) {
		return err
	}
	slog.Warn("transaction cancel", "tx", id, "service", tx.ServiceType, "owner", tx.Owner)

	if err := tx.transition(StateCommitting, StatePlanning); err != nil {
		// already applying or finishing, the apply loop notices the cancelled lock
		return nil
	}
	cause := fmt.Errorf("lock %s: %w", tx.LockID, synctypes.ErrCancelled)
	o.finish(ctx, tx, o.abandoned(tx, cause))
	return nil
}

// ActiveTransactions lists the transactions that have not ended
func (o *Orchestrator) ActiveTransactions() []Info {
	o.mu.Lock()
	infos := make([]Info, 0, len(o.txs))
	for _, tx := range o.txs {
		infos = append(infos, tx.Info())
	}
	o.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

func (o *Orchestrator) ListHistory(ctx context.Context, st synctypes.ServiceType, path string) ([]*revision.FileRecord, error) {
	return o.store.ListHistory(ctx, st, path)
}

// RestoreRevision makes an old revision current. It takes the service lock
// for the duration so it never interleaves with a transaction.
func (o *Orchestrator) RestoreRevision(ctx context.Context, st synctypes.ServiceType, path string, rev int, owner string) (*revision.FileRecord, error) {
	l, err := o.locks.Acquire(st, lock.Estimate{FileCount: 1}, owner)
	if err != nil {
		return nil, err
	}
	defer o.locks.Release(l.ID)

	return o.store.Restore(ctx, st, path, rev, owner)
}

// Reap rolls back transactions that were never applied and whose lock is gone
func (o *Orchestrator) Reap(ctx context.Context) int {
	o.mu.Lock()
	var stale []*Transaction
	for _, tx := range o.txs {
		if tx.State() == StatePlanning && o.locks.Check(tx.LockID) != nil {
			stale = append(stale, tx)
		}
	}
	o.mu.Unlock()

	reaped := 0
	for _, tx := range stale {
		if err := tx.transition(StateCommitting, StatePlanning); err != nil {
			continue
		}
		cause := o.locks.Check(tx.LockID)
		o.finish(ctx, tx, o.abandoned(tx, cause))
		reaped++
	}
	return reaped
}

// Run reaps stale transactions until ctx is done
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.ReapInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := o.clock.NewTicker(o.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if n := o.Reap(ctx); n > 0 {
				slog.Info("transactions reaped", "count", n)
			}
		}
	}
}

func (o *Orchestrator) get(id string) (*Transaction, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tx, ok := o.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", synctypes.ErrTransactionNotFound, id)
	}
	return tx, nil
}

// abandoned builds the result of a transaction that applied nothing
func (o *Orchestrator) abandoned(tx *Transaction, cause error) *Result {
	now := o.clock.Now().UTC()
	plan := tx.Plan()
	res := &Result{
		TransactionID: tx.ID,
		ServiceType:   tx.ServiceType,
		Mode:          tx.Mode,
		Status:        StateRolledBack,
		StartedAt:     now,
		Actions:       make([]ActionResult, len(plan.Actions)),
		Err:           cause,
	}
	for i, a := range plan.Actions {
		res.Actions[i] = unapplied(a, cause)
	}
	return res
}

// finish releases the lock, records the outcome and forgets the transaction
func (o *Orchestrator) finish(ctx context.Context, tx *Transaction, res *Result) {
	ctx = context.WithoutCancel(ctx)

	o.locks.Release(tx.LockID)

	now := o.clock.Now().UTC()
	res.FinishedAt = now
	res.SyncedAt = now.Truncate(time.Second)
	res.Elapsed = res.FinishedAt.Sub(res.StartedAt)
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	res.tally()
	tx.setState(res.Status)

	o.mu.Lock()
	delete(o.txs, tx.ID)
	o.mu.Unlock()

	if o.staging != nil {
		if err := o.staging.Remove(tx.ID); err != nil {
			slog.Warn("staging cleanup", "tx", tx.ID, "error", err)
		}
	}
	if o.audit != nil {
		if err := o.audit.FinishOperation(ctx, res); err != nil {
			slog.Error("audit finish", "tx", tx.ID, "error", err)
		}
	}

	slog.Info("transaction end", "tx", tx.ID, "service", tx.ServiceType, "status", res.Status,
		"downloaded", res.Downloaded, "uploaded", res.Uploaded, "deleted", res.Deleted,
		"conflicted", res.Conflicted, "failed", res.Failed, "unapplied", res.Unapplied,
		"bytes", humanize.Bytes(uint64(res.BytesTransferred)), "elapsed", res.Elapsed)
}

// estimate sums sizes as floats so oversized manifest entries cannot wrap
func estimate(plan synctypes.ActionPlan) lock.Estimate {
	var bytes float64
	for _, a := range plan.Actions {
		switch a.Kind {
		case synctypes.ActionUpload:
			bytes += float64(a.Client.Size)
		case synctypes.ActionDownload:
			bytes += float64(a.Server.Size)
		case synctypes.ActionConflict:
			bytes += float64(a.Client.Size) + float64(a.Server.Size)
		}
	}
	return lock.EstimateFromBytes(bytes, plan.Len())
}

func unapplied(a synctypes.Action, cause error) ActionResult {
	ar := ActionResult{Action: a, Outcome: OutcomeUnapplied}
	if cause != nil {
		ar.Error = cause.Error()
	}
	return ar
}
