// Copyright 2025 Mortem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history implements `mortem history`: listing recorded
// debugging runs and printing the reports they captured.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/commands/completion"
	"github.com/mortem-dev/mortem/internal/config"
	histdb "github.com/mortem-dev/mortem/internal/history"
)

// runListing is the JSON shape of one run in `mortem history --json`.
type runListing struct {
	ID                string     `json:"id"`
	Target            string     `json:"target"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	ErrorsSeen        int        `json:"errors_seen"`
	ReportsEmitted    int        `json:"reports_emitted"`
	ReportsSuppressed int        `json:"reports_suppressed"`
	LinesDropped      int        `json:"lines_dropped"`
	Outcome           string     `json:"outcome,omitempty"`
}

// NewHistoryCommand creates the history command and its show subcommand.
func NewHistoryCommand() *cobra.Command {
	var (
		limit   int
		jsonOut bool
		jqExpr  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past debugging runs",
		Long: `History lists recorded debugging runs, newest first: id, start time,
target, and report counts.

Use --jq to transform the JSON listing, and 'history show <id>' to
print the reports a run captured. Run ids may be abbreviated to any
unique prefix.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd, limit, jsonOut, jqExpr)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 = all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	cmd.Flags().StringVar(&jqExpr, "jq", "", "Transform the JSON listing with a jq expression")

	cmd.AddCommand(newShowCommand())

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "show <run-id>",
		Short:             "Print the reports captured during a run",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRun(cmd, args[0])
		},
	}
}

// openStore loads the configuration and opens the history database it
// points at. Listing works even when recording is disabled; the store
// just stays empty until a run writes to it.
func openStore() (*histdb.Store, error) {
	configPath, err := cli.ResolveConfigPath()
	if err != nil {
		return nil, cli.NewConfigError("failed to resolve config path", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cli.NewConfigError("invalid configuration", err)
	}
	store, err := histdb.Open(cfg.History)
	if err != nil {
		return nil, cli.NewRunError("failed to open history database", err)
	}
	return store, nil
}

func listRuns(cmd *cobra.Command, limit int, jsonOut bool, jqExpr string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return cli.NewRunError("failed to list runs", err)
	}

	if jqExpr != "" {
		lines, err := applyJQ(runsToListings(runs), jqExpr)
		if err != nil {
			return err
		}
		for _, line := range lines {
			cmd.Println(line)
		}
		return nil
	}

	if jsonOut {
		data, err := json.MarshalIndent(runsToListings(runs), "", "  ")
		if err != nil {
			return cli.NewRunError("failed to encode runs", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(runs) == 0 {
		cmd.Println("No runs recorded yet.")
		return nil
	}
	return renderRunsTable(cmd.OutOrStdout(), runs)
}

func showRun(cmd *cobra.Command, idPrefix string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	id, err := store.ResolveRunID(ctx, idPrefix)
	if err != nil {
		switch {
		case errors.Is(err, histdb.ErrRunNotFound):
			return cli.NewConfigError(fmt.Sprintf("no run matches %q", idPrefix), nil)
		case errors.Is(err, histdb.ErrAmbiguousRunID):
			return cli.NewConfigError(fmt.Sprintf("run id %q is ambiguous, use more characters", idPrefix), nil)
		}
		return cli.NewRunError("failed to resolve run id", err)
	}

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return cli.NewRunError("failed to load run", err)
	}
	reports, err := store.Reports(ctx, id)
	if err != nil {
		return cli.NewRunError("failed to load reports", err)
	}

	renderShow(cmd.OutOrStdout(), run, reports)
	return nil
}

// runsToListings converts store rows to the JSON listing shape.
func runsToListings(runs []*histdb.Run) []runListing {
	listings := make([]runListing, 0, len(runs))
	for _, run := range runs {
		l := runListing{
			ID:                run.ID,
			Target:            run.Target,
			StartedAt:         run.StartedAt,
			ErrorsSeen:        run.ErrorsSeen,
			ReportsEmitted:    run.ReportsEmitted,
			ReportsSuppressed: run.ReportsSuppressed,
			LinesDropped:      run.LinesDropped,
			Outcome:           run.Outcome,
		}
		if !run.FinishedAt.IsZero() {
			finished := run.FinishedAt
			l.FinishedAt = &finished
		}
		listings = append(listings, l)
	}
	return listings
}

// applyJQ runs a jq expression over the listing and returns one output
// line per result, like jq -c would.
func applyJQ(listings []runListing, expr string) ([]string, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, cli.NewConfigError(fmt.Sprintf("invalid --jq expression %q", expr), err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, cli.NewConfigError(fmt.Sprintf("invalid --jq expression %q", expr), err)
	}

	// A round of JSON turns the listing into the plain maps gojq
	// operates on.
	data, err := json.Marshal(listings)
	if err != nil {
		return nil, cli.NewRunError("failed to encode runs", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, cli.NewRunError("failed to decode runs", err)
	}

	var lines []string
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if iterErr, isErr := v.(error); isErr {
			return nil, cli.NewRunError("jq evaluation failed", iterErr)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, cli.NewRunError("failed to encode jq result", err)
		}
		lines = append(lines, string(out))
	}
	return lines, nil
}

func renderRunsTable(out io.Writer, runs []*histdb.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tTARGET\tERRORS\tREPORTS\tOUTCOME")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(run.ID),
			formatTime(run.StartedAt),
			run.Target,
			run.ErrorsSeen,
			run.ReportsEmitted,
			outcomeLabel(run),
		)
	}
	return w.Flush()
}

func renderShow(out io.Writer, run *histdb.Run, reports []*histdb.Report) {
	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintf(out, "  target:   %s\n", run.Target)
	fmt.Fprintf(out, "  started:  %s\n", run.StartedAt.Format(time.RFC3339))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(out, "  finished: %s\n", run.FinishedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "  outcome:  %s\n", outcomeLabel(run))
	fmt.Fprintf(out, "  errors seen: %d  reports: %d  suppressed: %d\n",
		run.ErrorsSeen, run.ReportsEmitted, run.ReportsSuppressed)

	if len(reports) == 0 {
		fmt.Fprintln(out, "\nNo reports were captured.")
		return
	}
	for _, rep := range reports {
		fmt.Fprintln(out)
		fmt.Fprint(out, rep.Rendered)
	}
}

// outcomeLabel names an open run "running"; a run that never finished
// cleanly after a crash of mortem itself also shows that way.
func outcomeLabel(run *histdb.Run) string {
	if run.Outcome != "" {
		return run.Outcome
	}
	return "running"
}

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatTime(t time.Time) string {
	if time.Since(t) < 24*time.Hour {
		return t.Format("15:04:05")
	}
	return t.Format("2006-01-02 15:04")
}
