package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List scan run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		subject, _ := cmd.Flags().GetString("subject")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ScanRunFilter{Limit: limit}
		names := map[string]string{}
		if subject != "" {
			subj, err := lookupSubject(ctx, st, subject)
			if err != nil {
				return err
			}
			filter.SubjectID = subj.ID
			names[subj.ID] = subj.Name
		} else {
			subjects, err := st.ListSubjects(ctx)
			if err != nil {
				return eris.Wrap(err, "runs")
			}
			for _, s := range subjects {
				names[s.ID] = s.Name
			}
		}

		runs, err := st.ListScanRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs, names)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("subject", "", "only runs for this subject name")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a table of runs to w.
func formatRunsList(out io.Writer, runs []model.ScanRun, names map[string]string) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		dur := ""
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		subject := names[r.SubjectID]
		if subject == "" {
			subject = truncateID(r.SubjectID)
		}
		depth := ""
		if r.Deep {
			depth = "deep"
		}
		rows = append(rows, []string{
			truncateID(r.ID),
			truncate(subject, 30),
			string(r.Status),
			string(r.Trigger),
			depth,
			fmt.Sprint(r.TotalInserted()),
			fmt.Sprint(r.AlertCount),
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		})
	}
	_, _ = fmt.Fprintln(out, renderTable(
		[]string{"ID", "SUBJECT", "STATUS", "TRIGGER", "DEPTH", "INSERTED", "ALERTS", "STARTED", "DURATION"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight},
	))
}
