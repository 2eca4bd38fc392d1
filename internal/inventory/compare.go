package inventory

import (
	"sort"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	mapset "github.com/deckarep/golang-set/v2"
)

type compareConfig struct {
	tolerance time.Duration
	ignore    *ignore.List
}

type CompareOption func(*compareConfig)

// WithTolerance sets how far apart two modification times may be and still count as equal
func WithTolerance(d time.Duration) CompareOption {
	return func(c *compareConfig) {
		c.tolerance = d
	}
}

// WithIgnore drops matching paths from both manifests before comparing
func WithIgnore(list *ignore.List) CompareOption {
	return func(c *compareConfig) {
		c.ignore = list
	}
}

// Compare computes the plan that brings the client and the server in line.
// It performs no I/O and returns the same plan for the same inputs.
func Compare(server synctypes.ServerManifest, client synctypes.ClientManifest, opts ...CompareOption) synctypes.ActionPlan {
	cfg := &compareConfig{tolerance: synctypes.TimeResolution}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.ignore != nil {
		server = cfg.ignore.FilterServer(server)
		client = cfg.ignore.FilterClient(client)
	}

	clientByPath := make(map[string]synctypes.ClientEntry, len(client.Entries))
	for _, e := range client.Entries {
		clientByPath[e.Path] = e
	}

	paths := mapset.NewThreadUnsafeSetWithSize[string](len(server.Files) + len(clientByPath))
	for p := range server.Files {
		paths.Add(p)
	}
	for p := range clientByPath {
		paths.Add(p)
	}

	c := comparer{
		lastSync:  client.LastSync,
		tolerance: cfg.tolerance,
	}

	actions := make([]synctypes.Action, 0)
	for _, p := range paths.ToSlice() {
		serverEntry, onServer := server.Files[p]
		clientEntry, onClient := clientByPath[p]
		tombstone, hasTombstone := server.Tombstones[p]

		var action *synctypes.Action
		switch {
		case onServer && !onClient:
			action = download(serverEntry, nil)
		case !onServer && onClient && clientEntry.Deleted:
			// gone on both sides
		case !onServer && onClient:
			action = c.clientOnly(clientEntry, tombstone, hasTombstone)
		case onServer && clientEntry.Deleted:
			action = c.deletedOnClient(serverEntry, clientEntry)
		default:
			action = c.both(serverEntry, clientEntry)
		}

		if action != nil {
			actions = append(actions, *action)
		}
	}

	SortActions(actions)
	return synctypes.ActionPlan{Actions: actions}
}

// SortActions orders deletions before uploads before downloads before conflicts, by path within a kind
func SortActions(actions []synctypes.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Kind != actions[j].Kind {
			return actions[i].Kind < actions[j].Kind
		}
		return actions[i].Path < actions[j].Path
	})
}

type comparer struct {
	lastSync  time.Time
	tolerance time.Duration
}

// clientOnly removes the local copy only when the client synced it before and
// has not touched it since. Any other copy is content the server never saw.
func (c comparer) clientOnly(ce synctypes.ClientEntry, tombstone time.Time, hasTombstone bool) *synctypes.Action {
	if hasTombstone && !c.lastSync.IsZero() &&
		!c.after(ce.ModifiedAt, c.lastSync) && !c.after(ce.ModifiedAt, tombstone) {
		return &synctypes.Action{Kind: synctypes.ActionDeleteLocal, Path: ce.Path, Client: ptr(ce)}
	}
	return upload(ce, nil)
}

func (c comparer) deletedOnClient(se synctypes.ServerEntry, ce synctypes.ClientEntry) *synctypes.Action {
	if c.lastSync.IsZero() || c.after(se.ModifiedAt, c.lastSync) {
		// the server copy moved on since the client last saw it, bring it back
		return download(se, &ce)
	}
	return &synctypes.Action{Kind: synctypes.ActionDeleteRemote, Path: se.Path, Server: ptr(se), Client: ptr(ce)}
}

func (c comparer) both(se synctypes.ServerEntry, ce synctypes.ClientEntry) *synctypes.Action {
	if c.same(se, ce) {
		return nil
	}

	if c.lastSync.IsZero() {
		if c.after(ce.ModifiedAt, se.ModifiedAt) {
			return upload(ce, &se)
		}
		return conflict(se, ce)
	}

	serverChanged := c.after(se.ModifiedAt, c.lastSync)
	clientChanged := c.after(ce.ModifiedAt, c.lastSync)

	switch {
	case clientChanged && !serverChanged:
		return upload(ce, &se)
	case serverChanged && !clientChanged:
		return download(se, &ce)
	default:
		return conflict(se, ce)
	}
}

// same reports whether both sides hold the same content
func (c comparer) same(se synctypes.ServerEntry, ce synctypes.ClientEntry) bool {
	if ce.ContentHash != "" && se.ContentHash != "" {
		return ce.ContentHash == se.ContentHash
	}
	return ce.Size == se.Size && c.within(ce.ModifiedAt, se.ModifiedAt)
}

// after reports whether a is later than b by at least the tolerance
func (c comparer) after(a, b time.Time) bool {
	return a.Sub(b) >= c.tolerance
}

func (c comparer) within(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < c.tolerance
}

func upload(ce synctypes.ClientEntry, se *synctypes.ServerEntry) *synctypes.Action {
	return &synctypes.Action{Kind: synctypes.ActionUpload, Path: ce.Path, Client: ptr(ce), Server: se}
}

func download(se synctypes.ServerEntry, ce *synctypes.ClientEntry) *synctypes.Action {
	return &synctypes.Action{Kind: synctypes.ActionDownload, Path: se.Path, Server: ptr(se), Client: ce}
}

func conflict(se synctypes.ServerEntry, ce synctypes.ClientEntry) *synctypes.Action {
	res := DefaultResolution(se, ce)
	return &synctypes.Action{
		Kind:       synctypes.ActionConflict,
		Path:       se.Path,
		Server:     ptr(se),
		Client:     ptr(ce),
		Resolution: &res,
	}
}

func ptr[T any](v T) *T {
	return &v
}
