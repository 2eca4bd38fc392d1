package inventory

import (
	"fmt"
	"testing"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func se(path, hash string, modified time.Time) synctypes.ServerEntry {
	return synctypes.ServerEntry{Path: path, ContentHash: hash, Size: int64(len(hash)), ModifiedAt: modified}
}

func ce(path, hash string, modified time.Time) synctypes.ClientEntry {
	return synctypes.ClientEntry{Path: path, ContentHash: hash, Size: int64(len(hash)), ModifiedAt: modified}
}

func serverOf(entries ...synctypes.ServerEntry) synctypes.ServerManifest {
	m := synctypes.NewServerManifest()
	for _, e := range entries {
		m.Files[e.Path] = e
	}
	return m
}

func clientOf(lastSync time.Time, entries ...synctypes.ClientEntry) synctypes.ClientManifest {
	return synctypes.ClientManifest{ServiceType: synctypes.Contemporary, LastSync: lastSync, Entries: entries}
}

func kinds(plan synctypes.ActionPlan) []string {
	out := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		out = append(out, fmt.Sprintf("%s %s", a.Kind, a.Path))
	}
	return out
}

func TestCompare_TableDriven(t *testing.T) {
	cases := []struct {
		name   string
		server synctypes.ServerManifest
		client synctypes.ClientManifest
		want   []string
	}{
		{
			name:   "empty",
			server: serverOf(),
			client: clientOf(time.Time{}),
			want:   []string{},
		},
		{
			name:   "client newer on first sync uploads",
			server: serverOf(se("a.txt", "h0", at(0))),
			client: clientOf(time.Time{}, ce("a.txt", "h1", at(1))),
			want:   []string{"upload a.txt"},
		},
		{
			name:   "client newer after last sync uploads",
			server: serverOf(se("a.txt", "h0", at(0))),
			client: clientOf(at(0), ce("a.txt", "h1", at(1))),
			want:   []string{"upload a.txt"},
		},
		{
			name:   "only server changed downloads",
			server: serverOf(se("a.txt", "h2", at(3))),
			client: clientOf(at(2), ce("a.txt", "h1", at(1))),
			want:   []string{"download a.txt"},
		},
		{
			name:   "both changed conflicts",
			server: serverOf(se("b.txt", "h5", at(5))),
			client: clientOf(at(1), ce("b.txt", "h3", at(3))),
			want:   []string{"conflict b.txt"},
		},
		{
			name:   "server newer on first sync conflicts",
			server: serverOf(se("b.txt", "h5", at(5))),
			client: clientOf(time.Time{}, ce("b.txt", "h3", at(3))),
			want:   []string{"conflict b.txt"},
		},
		{
			name:   "neither changed but content differs conflicts",
			server: serverOf(se("c.txt", "hs", at(1))),
			client: clientOf(at(5), ce("c.txt", "hc", at(2))),
			want:   []string{"conflict c.txt"},
		},
		{
			name:   "equal hash is no action",
			server: serverOf(se("a.txt", "h0", at(0))),
			client: clientOf(time.Time{}, ce("a.txt", "h0", at(9))),
			want:   []string{},
		},
		{
			name:   "missing client hash falls back to size and time",
			server: serverOf(se("a.txt", "h0", at(0))),
			client: clientOf(time.Time{}, synctypes.ClientEntry{Path: "a.txt", Size: 2, ModifiedAt: at(0).Add(500 * time.Millisecond)}),
			want:   []string{},
		},
		{
			name:   "tombstone deletes stale local copy",
			server: withTombstone(serverOf(), "gone.txt", at(5)),
			client: clientOf(at(1), ce("gone.txt", "h", at(1))),
			want:   []string{"delete_local gone.txt"},
		},
		{
			name:   "tombstone does not touch a client that never synced",
			server: withTombstone(serverOf(), "notes.txt", at(60)),
			client: clientOf(time.Time{}, ce("notes.txt", "ffff", at(0))),
			want:   []string{"upload notes.txt"},
		},
		{
			name:   "local edit since last sync survives a later tombstone",
			server: withTombstone(serverOf(), "draft.txt", at(5)),
			client: clientOf(at(1), ce("draft.txt", "h", at(3))),
			want:   []string{"upload draft.txt"},
		},
		{
			name:   "local copy edited after tombstone uploads",
			server: withTombstone(serverOf(), "back.txt", at(1)),
			client: clientOf(at(1), ce("back.txt", "h", at(5))),
			want:   []string{"upload back.txt"},
		},
		{
			name:   "local deletion removes unchanged server copy",
			server: serverOf(se("d.txt", "h", at(1))),
			client: clientOf(at(2), synctypes.ClientEntry{Path: "d.txt", Deleted: true}),
			want:   []string{"delete_remote d.txt"},
		},
		{
			name:   "local deletion loses to newer server copy",
			server: serverOf(se("d.txt", "h", at(3))),
			client: clientOf(at(2), synctypes.ClientEntry{Path: "d.txt", Deleted: true}),
			want:   []string{"download d.txt"},
		},
		{
			name:   "local deletion of server deleted file is no action",
			server: withTombstone(serverOf(), "d.txt", at(1)),
			client: clientOf(at(2), synctypes.ClientEntry{Path: "d.txt", Deleted: true}),
			want:   []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := Compare(tc.server, tc.client)
			assert.Equal(t, tc.want, kinds(plan))
		})
	}
}

func withTombstone(m synctypes.ServerManifest, path string, ts time.Time) synctypes.ServerManifest {
	m.Tombstones[path] = ts
	return m
}

func TestCompare_DisjointSets(t *testing.T) {
	server := serverOf(se("s/2.txt", "x", at(0)), se("s/1.txt", "y", at(0)))
	client := clientOf(time.Time{}, ce("c/2.txt", "z", at(0)), ce("c/1.txt", "w", at(0)))

	plan := Compare(server, client)

	assert.Equal(t, []string{
		"upload c/1.txt",
		"upload c/2.txt",
		"download s/1.txt",
		"download s/2.txt",
	}, kinds(plan))
}

func TestCompare_Ordering(t *testing.T) {
	server := serverOf(
		se("z-down.txt", "s", at(0)),
		se("a-down.txt", "s", at(0)),
		se("conf.txt", "s1", at(5)),
		se("rm.txt", "s", at(0)),
	)
	server = withTombstone(server, "tomb.txt", at(9))
	client := clientOf(at(1),
		ce("up.txt", "c", at(3)),
		ce("conf.txt", "c1", at(4)),
		ce("tomb.txt", "c", at(0)),
		synctypes.ClientEntry{Path: "rm.txt", Deleted: true},
	)

	plan := Compare(server, client)

	assert.Equal(t, []string{
		"delete_local tomb.txt",
		"delete_remote rm.txt",
		"upload up.txt",
		"download a-down.txt",
		"download z-down.txt",
		"conflict conf.txt",
	}, kinds(plan))
}

func TestCompare_Deterministic(t *testing.T) {
	server := synctypes.NewServerManifest()
	client := clientOf(time.Time{})
	for i := 0; i < 200; i++ {
		p := fmt.Sprintf("dir%d/file%03d.txt", i%7, i)
		if i%3 != 0 {
			server.Files[p] = se(p, "s", at(i))
		}
		if i%2 == 0 {
			client.Entries = append(client.Entries, ce(p, "c", at(i%5)))
		}
	}

	first := Compare(server, client)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Compare(server, client))
	}
}

func TestCompare_IdenticalInventoriesAreEmpty(t *testing.T) {
	server := serverOf(se("a.txt", "h1", at(1)), se("sub/b.txt", "h2", at(2)))
	client := clientOf(at(3), ce("a.txt", "h1", at(1)), ce("sub/b.txt", "h2", at(2)))

	assert.True(t, Compare(server, client).IsEmpty())
}

func TestCompare_ConflictDeterminism(t *testing.T) {
	lastSync := at(0)

	t.Run("later client wins", func(t *testing.T) {
		plan := Compare(serverOf(se("p.txt", "s", at(2))), clientOf(lastSync, ce("p.txt", "c", at(3))))
		require.Len(t, plan.Actions, 1)
		assert.Equal(t, synctypes.WinnerClient, plan.Actions[0].Resolution.Winner)
	})

	t.Run("later server wins", func(t *testing.T) {
		plan := Compare(serverOf(se("p.txt", "s", at(3))), clientOf(lastSync, ce("p.txt", "c", at(2))))
		require.Len(t, plan.Actions, 1)
		assert.Equal(t, synctypes.WinnerServer, plan.Actions[0].Resolution.Winner)
	})

	t.Run("tie goes to server repeatably", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			plan := Compare(serverOf(se("p.txt", "s", at(3))), clientOf(lastSync, ce("p.txt", "c", at(3))))
			require.Len(t, plan.Actions, 1)
			assert.Equal(t, synctypes.ActionConflict, plan.Actions[0].Kind)
			assert.Equal(t, synctypes.WinnerServer, plan.Actions[0].Resolution.Winner)
			assert.Equal(t, synctypes.SourcePolicy, plan.Actions[0].Resolution.Source)
		}
	})
}

func TestCompare_WithIgnore(t *testing.T) {
	server := serverOf(se("a.txt", "s", at(0)), se("cache.bak", "s", at(0)))
	client := clientOf(time.Time{}, ce(".DS_Store", "c", at(0)), ce("notes.bak", "c", at(0)))

	plan := Compare(server, client, WithIgnore(ignore.New("*.bak")))
	assert.Equal(t, []string{"download a.txt"}, kinds(plan))
}

func TestCompare_WithTolerance(t *testing.T) {
	server := serverOf(synctypes.ServerEntry{Path: "a.txt", Size: 1, ModifiedAt: at(0)})
	client := clientOf(time.Time{}, synctypes.ClientEntry{Path: "a.txt", Size: 1, ModifiedAt: at(0).Add(90 * time.Second)})

	assert.Len(t, Compare(server, client).Actions, 1)
	assert.Empty(t, Compare(server, client, WithTolerance(2*time.Minute)).Actions)
}
