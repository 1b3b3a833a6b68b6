package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"edgecloud/internal/config"
	"edgecloud/internal/repository/sqlite"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show recorded runs",
	Long: `Show the runs recorded in the database. With a run id, show how many
detections of each category the run displayed.

Examples:
  edge-device runs                 # Most recent runs
  edge-device runs --limit 5
  edge-device runs 12              # Categories of run 12`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var runsLimit int

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to show")
	runsCmd.Flags().String("db", filepath.Join("data", "detections.db"), "SQLite database")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg := config.FromViper(config.NewViper(cmd.Flags()))

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer out.Flush()

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Newf("invalid run id %q", args[0])
		}
		counts, err := sqlite.NewDetectionRepository(db).CountByCategory(id)
		if err != nil {
			return err
		}

		categories := make([]string, 0, len(counts))
		for category := range counts {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		fmt.Fprintln(out, "CATEGORY\tDETECTIONS")
		for _, category := range categories {
			fmt.Fprintf(out, "%s\t%d\n", category, counts[category])
		}
		return nil
	}

	runs, err := sqlite.NewRunRepository(db).GetAll(runsLimit)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "ID\tSTREAM\tSOURCE\tSTARTED\tFRAMES\tSKIPPED\tTRACKER FAILURES")
	for _, run := range runs {
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%d\t%d\t%d\n", run.ID, run.Stream, run.Source,
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Frames, run.SkippedFrames, run.TrackerFailures)
	}
	return nil
}
