package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/InsereNomen/AlderSync/internal/client"
	"github.com/InsereNomen/AlderSync/internal/syncsdk"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

const hashPrefix = 12

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return bold.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func kindStyle(k synctypes.ActionKind) lipgloss.Style {
	switch k {
	case synctypes.ActionUpload:
		return cyan
	case synctypes.ActionDownload:
		return green
	case synctypes.ActionDeleteLocal, synctypes.ActionDeleteRemote:
		return red
	case synctypes.ActionConflict:
		return yellow
	}
	return lightGray
}

func winnerOf(a synctypes.Action) string {
	if a.Resolution == nil {
		return ""
	}
	return fmt.Sprintf("%s wins (%s)", a.Resolution.Winner, a.Resolution.Source)
}

func printPlan(w io.Writer, st synctypes.ServiceType, mode synctypes.Mode, plan synctypes.ActionPlan) {
	fmt.Fprintf(w, "%s %s\n", bold.Render(st.String()), gray.Render(string(mode)))
	if plan.IsEmpty() {
		fmt.Fprintln(w, green.Render("up to date"))
		return
	}

	t := newTable("ACTION", "PATH", "NOTE")
	for _, a := range plan.Actions {
		note := winnerOf(a)
		if !mode.Allows(a) {
			note = gray.Render("not in " + string(mode))
		}
		t.Row(kindStyle(a.Kind).Render(a.Kind.String()), a.Path, note)
	}
	fmt.Fprintln(w, t.String())
}

func printReport(w io.Writer, st synctypes.ServiceType, report *client.Report) {
	res := report.Result
	status := green.Render(res.Status)
	if res.Status != syncsdk.StatusCommitted || len(report.LocalErrors) > 0 {
		status = red.Render(res.Status)
	}

	fmt.Fprintf(w, "%s %s %s in %s, %s sent, %s fetched\n",
		bold.Render(st.String()), gray.Render(string(res.Mode)), status,
		res.Elapsed.Round(time.Millisecond), humanize.Bytes(uint64(res.BytesTransferred)),
		humanize.Bytes(uint64(report.BytesFetched)))
	fmt.Fprintf(w, "  pulled %d  pushed %d  deleted %d  conflicts %d  skipped %d  failed %d\n",
		report.Fetched, res.Uploaded, res.Deleted, res.Conflicted, res.Skipped, res.Failed)
	if n := report.Deferred.Len(); n > 0 {
		fmt.Fprintf(w, "  %s\n", gray.Render(fmt.Sprintf("%d changes left for a %s", n, deferredHint(res.Mode))))
	}

	var problems [][]string
	for _, ar := range res.Actions {
		if ar.Outcome == syncsdk.OutcomeApplied || ar.Error == "" {
			continue
		}
		problems = append(problems, []string{ar.Outcome, ar.Action.Kind.String(), ar.Action.Path, ar.Error})
	}
	if len(problems) > 0 {
		fmt.Fprintln(w, newTable("OUTCOME", "ACTION", "PATH", "REASON").Rows(problems...).String())
	}
	for _, err := range report.LocalErrors {
		fmt.Fprintf(w, "  %s %s\n", red.Render("local:"), err)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "  %s %s\n", red.Render("stopped:"), res.Error)
	}
}

func printFiles(w io.Writer, list *syncsdk.ListResponse, deleted bool) {
	t := newTable("PATH", "REV", "SIZE", "MODIFIED", "OWNER")
	for _, f := range list.Files {
		t.Row(f.Path, strconv.Itoa(f.Revision), humanize.Bytes(uint64(f.Size)), humanize.Time(f.ModifiedAt), f.Owner)
	}
	if deleted {
		for p, at := range list.Tombstones {
			t.Row(gray.Render(p), red.Render("deleted"), "", humanize.Time(at), "")
		}
	}
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "%d files\n", len(list.Files))
}

func printHistory(w io.Writer, history *syncsdk.HistoryResponse) {
	t := newTable("REV", "SIZE", "HASH", "MODIFIED", "OWNER", "STORED")
	for _, r := range history.Revisions {
		size := humanize.Bytes(uint64(r.Size))
		hash := r.ContentHash
		if len(hash) > hashPrefix {
			hash = hash[:hashPrefix]
		}
		if r.IsDeleted {
			size, hash = red.Render("deleted"), ""
		}
		t.Row(strconv.Itoa(r.Revision), size, hash, r.ModifiedAt.Local().Format(time.DateTime), r.Owner, humanize.Time(r.CreatedAt))
	}
	fmt.Fprintln(w, t.String())
}

func deferredHint(mode synctypes.Mode) string {
	if mode == synctypes.ModePull {
		return "push or reconcile"
	}
	return "pull or reconcile"
}
