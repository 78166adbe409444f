package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/revmigrate/internal/executor"
	"github.com/example/revmigrate/internal/graph"
	"github.com/example/revmigrate/internal/migration"
	"github.com/example/revmigrate/internal/migrator"
	"github.com/example/revmigrate/internal/resolver"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

type appliedView struct {
	RevisionID string    `json:"revision_id"`
	AppliedAt  time.Time `json:"applied_at"`
	Checksum   string    `json:"checksum"`
	Message    string    `json:"message,omitempty"`
	Known      bool      `json:"known"`
	Drifted    bool      `json:"drifted"`
}

type pendingView struct {
	RevisionID    string   `json:"revision_id"`
	DownRevisions []string `json:"down_revisions"`
	Message       string   `json:"message,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

type statusView struct {
	Project       string        `json:"project"`
	UpToDate      bool          `json:"up_to_date"`
	Applied       []appliedView `json:"applied"`
	Pending       []pendingView `json:"pending"`
	Heads         []string      `json:"heads"`
	DatabaseHeads []string      `json:"database_heads"`
	Unknown       []string      `json:"unknown"`
	Drift         []string      `json:"drift"`
}

func newStatusView(project string, st *migrator.Status) statusView {
	v := statusView{
		Project:       project,
		UpToDate:      st.UpToDate(),
		Applied:       make([]appliedView, 0, len(st.Applied)),
		Pending:       make([]pendingView, 0, len(st.Pending)),
		Heads:         nonNil(st.Heads),
		DatabaseHeads: nonNil(st.DatabaseHeads),
		Unknown:       nonNil(st.Unknown),
		Drift:         make([]string, 0, len(st.Drift)),
	}
	for _, a := range st.Applied {
		v.Applied = append(v.Applied, appliedView{
			RevisionID: a.Entry.RevisionID,
			AppliedAt:  a.Entry.AppliedAt,
			Checksum:   a.Entry.Checksum,
			Message:    a.Record.Message,
			Known:      a.Known,
			Drifted:    a.Drifted,
		})
	}
	for _, r := range st.Pending {
		v.Pending = append(v.Pending, pendingView{
			RevisionID:    r.RevisionID,
			DownRevisions: nonNil(r.DownRevisions),
			Message:       r.Message,
			Tags:          r.Tags,
		})
	}
	for _, d := range st.Drift {
		v.Drift = append(v.Drift, d.RevisionID)
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func printStatus(w io.Writer, project string, st *migrator.Status) {
	fmt.Fprintf(w, "Project: %s\n", project)
	fmt.Fprintf(w, "Heads: %s\n", listOrNone(st.Heads))
	fmt.Fprintf(w, "Database heads: %s\n", listOrNone(st.DatabaseHeads))

	fmt.Fprintf(w, "\nApplied (%d):\n", len(st.Applied))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, a := range st.Applied {
		note := a.Record.Message
		switch {
		case !a.Known:
			note = "UNKNOWN: no migration file"
		case a.Drifted:
			note = "DRIFT: " + note
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", a.Entry.RevisionID, a.Entry.AppliedAt.Local().Format(timeLayout), note)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nPending (%d):\n", len(st.Pending))
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range st.Pending {
		fmt.Fprintf(tw, "  %s\t<- %s\t%s\n", r.RevisionID, listOrNone(r.DownRevisions), r.Message)
	}
	tw.Flush()

	for _, d := range st.Drift {
		fmt.Fprintf(w, "\nwarning: %v\n", d)
	}
	if st.UpToDate() {
		fmt.Fprintln(w, "\nDatabase is up to date.")
	}
}

func printPlan(w io.Writer, p resolver.Plan) {
	if p.Empty() {
		fmt.Fprintf(w, "Nothing to do (%s).\n", p.Direction)
		return
	}
	fmt.Fprintf(w, "Plan (%s, %d steps):\n", p.Direction, len(p.Steps))
	for i, rec := range p.Steps {
		fmt.Fprintf(w, "  %d. %s  %s\n", i+1, rec.RevisionID, rec.Message)
	}
}

func printRun(w io.Writer, r *executor.RunResult) {
	for _, d := range r.Drift {
		fmt.Fprintf(w, "warning: %v\n", d)
	}
	if len(r.Steps) == 0 {
		fmt.Fprintf(w, "Nothing to do (%s).\n", r.Direction)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range r.Steps {
		line := fmt.Sprintf("  %s\t%s", s.RevisionID, s.Status)
		if s.Status != executor.StatusNotAttempted {
			line += "\t" + s.Duration.Round(time.Millisecond).String()
		}
		if s.Err != nil {
			line += "\t" + s.Err.Error()
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d steps completed (run %s)\n", len(r.Completed()), len(r.Steps), r.RunID)
}

func printSummary(w io.Writer, s graph.Summary) {
	fmt.Fprintf(w, "Revisions: %d\n", s.Nodes)
	fmt.Fprintf(w, "Roots: %s\n", listOrNone(s.Roots))
	fmt.Fprintf(w, "Heads: %s\n", listOrNone(s.Heads))
	fmt.Fprintf(w, "Merges: %d\n", s.Merges)
	fmt.Fprintf(w, "Max depth: %d\n", s.MaxDepth)
	if len(s.Isolated) > 0 {
		fmt.Fprintf(w, "Isolated: %s\n", strings.Join(s.Isolated, ", "))
	}
	printCounts(w, "Tags", s.ByTag)
	printCounts(w, "Authors", s.ByAuthor)
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, counts[k])
	}
}

func printRecords(w io.Writer, records []migration.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.RevisionID,
			r.CreatedAt.Local().Format(timeLayout),
			r.Author,
			strings.Join(r.Tags, ","),
			r.Message)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d revisions\n", len(records))
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}
