package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/InsereNomen/AlderSync/internal/syncsdk"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

const (
	lockFile        = "lock"
	transferWorkers = 4
	rollbackTimeout = 10 * time.Second
)

var ErrFolderLocked = errors.New("folder is being synced by another process")

// SyncOptions controls one Sync run
type SyncOptions struct {
	Mode        synctypes.Mode
	Resolutions map[string]synctypes.Winner
	// KeepAll picks the winner of every conflict without an entry in Resolutions
	KeepAll     synctypes.Winner
	Description string
	// DryRun computes the plan and rolls the transaction back
	DryRun bool
	// Confirm is asked before anything is applied. Returning false rolls back.
	Confirm func(plan synctypes.ActionPlan) bool
}

// Report is what a Sync run did on both sides
type Report struct {
	Plan synctypes.ActionPlan
	// Deferred holds actions the mode left for a later sync
	Deferred synctypes.ActionPlan
	Result   *syncsdk.Result
	Fetched  int
	// BytesFetched counts server content written into the folder
	BytesFetched int64
	Removed      int
	// LocalErrors are files the server delivered that could not be written locally
	LocalErrors []error
}

// Complete reports whether the folder and the server agreed on every path
// when the sync ended
func (r *Report) Complete() bool {
	if r.Result == nil || r.Result.Status != syncsdk.StatusCommitted {
		return false
	}
	return r.Result.Skipped == 0 && r.Result.Failed == 0 &&
		len(r.LocalErrors) == 0 && r.Deferred.IsEmpty()
}

// Runner syncs one local folder with one service type
type Runner struct {
	sdk    *syncsdk.SyncSDK
	st     synctypes.ServiceType
	folder string
	ignore *ignore.List
}

func NewRunner(sdk *syncsdk.SyncSDK, st synctypes.ServiceType, folder string) (*Runner, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("%w: unknown service type %q", synctypes.ErrInvalidManifest, st)
	}
	folder, err := utils.ResolvePath(folder)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(folder); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}

	ignoreList, err := ignore.LoadFile(filepath.Join(folder, ignore.FileName))
	if err != nil {
		return nil, err
	}

	return &Runner{sdk: sdk, st: st, folder: folder, ignore: ignoreList}, nil
}

func (r *Runner) Folder() string {
	return r.folder
}

func (r *Runner) ServiceType() synctypes.ServiceType {
	return r.st
}

// Sync runs one transaction: scan, begin, upload what the plan needs, apply,
// then write what the server delivered into the folder.
func (r *Runner) Sync(ctx context.Context, opts SyncOptions) (*Report, error) {
	unlock, err := r.lockFolder()
	if err != nil {
		return nil, err
	}
	defer unlock()

	journal, err := OpenJournal(r.folder)
	if err != nil {
		return nil, err
	}
	defer journal.Close()

	manifest, _, err := r.manifest(ctx, journal)
	if err != nil {
		return nil, err
	}

	begin, err := r.sdk.Tx.Begin(ctx, &syncsdk.BeginParams{
		ServiceType: r.st,
		Mode:        opts.Mode,
		Manifest:    manifest,
		Description: opts.Description,
	})
	if err != nil {
		return nil, err
	}
	report := &Report{Plan: begin.Plan, Deferred: begin.Deferred}
	slog.Info("sync begin", "service", r.st, "mode", opts.Mode, "tx", begin.TransactionID, "actions", begin.Plan.Len())

	if opts.DryRun || (opts.Confirm != nil && !opts.Confirm(begin.Plan)) {
		r.rollback(ctx, begin.TransactionID)
		return report, nil
	}

	resolutions := opts.resolutionsFor(begin.Plan)
	if err := r.uploadClientCopies(ctx, begin.TransactionID, opts.Mode, resolutions, begin.Plan); err != nil {
		r.rollback(ctx, begin.TransactionID)
		return report, err
	}

	res, err := r.sdk.Tx.Apply(ctx, begin.TransactionID, &syncsdk.ApplyParams{Resolutions: resolutions})
	if err != nil {
		return report, err
	}
	report.Result = res

	r.deliverLocally(ctx, res, report)

	if err := r.recordJournal(ctx, journal, res, report); err != nil {
		return report, err
	}

	slog.Info("sync end", "service", r.st, "tx", res.TransactionID, "status", res.Status,
		"uploaded", res.Uploaded, "fetched", report.Fetched, "removed", report.Removed,
		"sent", humanize.Bytes(uint64(res.BytesTransferred)), "fetched_bytes", humanize.Bytes(uint64(report.BytesFetched)),
		"local_errors", len(report.LocalErrors))
	return report, nil
}

// Manifest scans the folder the way Sync would, without talking to the server
func (r *Runner) Manifest(ctx context.Context) (synctypes.ClientManifest, error) {
	journal, err := OpenJournal(r.folder)
	if err != nil {
		return synctypes.ClientManifest{}, err
	}
	defer journal.Close()

	m, _, err := r.manifest(ctx, journal)
	return m, err
}

func (r *Runner) manifest(ctx context.Context, journal *Journal) (synctypes.ClientManifest, map[string]LocalFile, error) {
	lastSync, err := journal.LastSync(ctx)
	if err != nil {
		return synctypes.ClientManifest{}, nil, err
	}
	known, err := journal.Entries(ctx)
	if err != nil {
		return synctypes.ClientManifest{}, nil, err
	}
	files, err := NewScanner(r.folder, r.ignore).Scan(ctx, known)
	if err != nil {
		return synctypes.ClientManifest{}, nil, err
	}
	return BuildManifest(r.st, files, known, lastSync), files, nil
}

// uploadClientCopies stages every file the server will read: uploads and
// conflicts whose outcome the mode allows
func (r *Runner) uploadClientCopies(ctx context.Context, txID string, mode synctypes.Mode, resolutions map[string]synctypes.Winner, plan synctypes.ActionPlan) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(transferWorkers)

	for _, action := range plan.Actions {
		if !needsClientCopy(mode, resolutions, action) {
			continue
		}
		eg.Go(func() error {
			file, err := os.Open(r.localPath(action.Path))
			if err != nil {
				return fmt.Errorf("open %s: %w", action.Path, err)
			}
			defer file.Close()

			if _, err := r.sdk.Tx.Upload(egCtx, txID, action.Path, file); err != nil {
				return fmt.Errorf("upload %s: %w", action.Path, err)
			}
			slog.Debug("sync staged", "path", action.Path)
			return nil
		})
	}

	return eg.Wait()
}

// resolutionsFor keeps the choices that name a conflict of plan and fills in KeepAll
func (o SyncOptions) resolutionsFor(plan synctypes.ActionPlan) map[string]synctypes.Winner {
	out := make(map[string]synctypes.Winner)
	for _, a := range plan.Actions {
		if a.Kind != synctypes.ActionConflict {
			continue
		}
		if w, ok := o.Resolutions[a.Path]; ok {
			out[a.Path] = w
		} else if o.KeepAll != "" {
			out[a.Path] = o.KeepAll
		}
	}
	return out
}

func needsClientCopy(mode synctypes.Mode, resolutions map[string]synctypes.Winner, action synctypes.Action) bool {
	switch action.Kind {
	case synctypes.ActionUpload:
	case synctypes.ActionConflict:
		if w, ok := resolutions[action.Path]; ok {
			action.Resolution = &synctypes.Resolution{Winner: w, Source: synctypes.SourceOverride}
		}
	default:
		return false
	}
	return mode.Allows(action)
}

// deliverLocally downloads the revisions the server delivered and removes local deletions
func (r *Runner) deliverLocally(ctx context.Context, res *syncsdk.Result, report *Report) {
	var mu sync.Mutex
	fail := func(err error) {
		mu.Lock()
		report.LocalErrors = append(report.LocalErrors, err)
		mu.Unlock()
		slog.Warn("sync local", "error", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, transferWorkers)

	for _, ar := range res.Actions {
		if ar.Outcome != syncsdk.OutcomeApplied {
			continue
		}

		switch {
		case ar.Action.Kind == synctypes.ActionDeleteLocal:
			if err := os.Remove(r.localPath(ar.Action.Path)); err != nil && !os.IsNotExist(err) {
				fail(fmt.Errorf("remove %s: %w", ar.Action.Path, err))
				continue
			}
			report.Removed++

		case ar.Action.PullsFromServer() && ar.Record != nil:
			rec := *ar.Record
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				n, err := r.fetch(ctx, rec)
				if err != nil {
					fail(err)
					return
				}
				mu.Lock()
				report.Fetched++
				report.BytesFetched += n
				mu.Unlock()
			}()
		}
	}

	wg.Wait()
}

// fetch writes one server revision into the folder with the server's modification time
func (r *Runner) fetch(ctx context.Context, rec syncsdk.Record) (int64, error) {
	rev := rec.Revision
	body, _, err := r.sdk.Files.Download(ctx, r.st, rec.Path, &rev)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	dst := r.localPath(rec.Path)
	_, n, err := utils.WriteFileAtomic(dst, body, rec.ContentHash)
	if err != nil {
		if errors.Is(err, utils.ErrHashMismatch) {
			return 0, fmt.Errorf("%s: %w: %w", rec.Path, synctypes.ErrIntegrity, err)
		}
		return 0, fmt.Errorf("write %s: %w", rec.Path, err)
	}

	if err := os.Chtimes(dst, rec.ModifiedAt, rec.ModifiedAt); err != nil {
		return n, fmt.Errorf("set mtime %s: %w", rec.Path, err)
	}
	return n, nil
}

// recordJournal stores the folder as it is after the sync. The last sync time
// only moves forward when the sync was complete, so local changes the mode
// skipped still count as changed next time.
func (r *Runner) recordJournal(ctx context.Context, journal *Journal, res *syncsdk.Result, report *Report) error {
	known, err := journal.Entries(ctx)
	if err != nil {
		return err
	}
	files, err := NewScanner(r.folder, r.ignore).Scan(ctx, known)
	if err != nil {
		return err
	}

	revisions := make(map[string]int, len(known))
	for p, e := range known {
		revisions[p] = e.Revision
	}
	for _, ar := range res.Actions {
		if ar.Outcome == syncsdk.OutcomeApplied && ar.Record != nil && !ar.Record.IsDeleted {
			revisions[ar.Record.Path] = ar.Record.Revision
		}
	}

	entries := make([]JournalEntry, 0, len(files))
	for _, f := range files {
		rev, ok := revisions[f.Path]
		if !ok {
			rev = -1
		}
		entries = append(entries, JournalEntry{
			Path:        f.Path,
			ContentHash: f.ContentHash,
			Size:        f.Size,
			Revision:    rev,
			ModifiedAt:  f.ModifiedAt,
		})
	}

	// a local delete the mode did not push stays a delete
	for _, a := range report.Deferred.Actions {
		if a.Kind != synctypes.ActionDeleteRemote {
			continue
		}
		if _, onDisk := files[a.Path]; onDisk {
			continue
		}
		if e, ok := known[a.Path]; ok {
			entries = append(entries, e)
		}
	}

	var lastSync *time.Time
	if report.Complete() {
		lastSync = &res.SyncedAt
	}
	return journal.Commit(ctx, entries, lastSync)
}

func (r *Runner) rollback(ctx context.Context, txID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if _, err := r.sdk.Tx.Rollback(ctx, txID); err != nil {
		slog.Warn("sync rollback", "tx", txID, "error", err)
	}
}

func (r *Runner) lockFolder() (func(), error) {
	fl := flock.New(filepath.Join(r.folder, StateDir, lockFile))
	if err := utils.EnsureParent(fl.Path()); err != nil {
		return nil, err
	}
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock folder: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrFolderLocked, r.folder)
	}
	return func() { fl.Unlock() }, nil
}

func (r *Runner) localPath(p string) string {
	return filepath.Join(r.folder, filepath.FromSlash(p))
}
