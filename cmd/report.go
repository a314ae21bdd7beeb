package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/athlete-monitor/internal/model"
	"github.com/sells-group/athlete-monitor/internal/notify"
)

var reportCmd = &cobra.Command{
	Use:   "report <name>",
	Short: "Generate a subject's weekly report now",
	Long:  "Generates, stores and sends the weekly recommendation for one subject. --latest prints the stored reports without calling the model.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		latest, _ := cmd.Flags().GetBool("latest")

		if latest {
			if err := cfg.Validate("store"); err != nil {
				return err
			}
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			subj, err := lookupSubject(ctx, st, args[0])
			if err != nil {
				return err
			}
			scanReport, err := st.GetLatestReport(ctx, subj.ID)
			if err != nil {
				return eris.Wrap(err, "report: latest scan report")
			}
			wk, err := st.GetLatestWeeklyReport(ctx, subj.ID)
			if err != nil {
				return eris.Wrap(err, "report: latest weekly report")
			}
			formatStoredReports(os.Stdout, *subj, scanReport, wk)
			return nil
		}

		env, err := initMonitor(ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		subj, err := lookupSubject(ctx, env.Store, args[0])
		if err != nil {
			return err
		}
		r, err := env.Weekly.Generate(ctx, *subj)
		if err != nil {
			return err
		}

		msg := notify.WeeklyMessage(*subj, r)
		if err := env.Notifier.Notify(ctx, msg); err != nil {
			zap.L().Warn("weekly notification failed", zap.Error(err))
		}
		_, _ = fmt.Fprintf(os.Stdout, "%s\n\n%s\n", msg.Title, msg.Text)
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("latest", false, "print the stored scan and weekly reports instead of generating")
	rootCmd.AddCommand(reportCmd)
}

// formatStoredReports prints the latest scan report and weekly report.
func formatStoredReports(w io.Writer, subj model.Subject, scanReport *model.ScanReport, wk *model.WeeklyReport) {
	_, _ = fmt.Fprintf(w, "%s", subj.Name)
	if subj.Club != "" {
		_, _ = fmt.Fprintf(w, " (%s)", subj.Club)
	}
	_, _ = fmt.Fprintln(w)

	if scanReport == nil {
		_, _ = fmt.Fprintln(w, "\nNo scan report yet.")
	} else {
		_, _ = fmt.Fprintf(w, "\nLatest scan %s: image index %.1f/100\n",
			scanReport.CreatedAt.Format("2006-01-02 15:04"), scanReport.ImageIndex.Score)
		if scanReport.Summary != "" {
			_, _ = fmt.Fprintln(w, scanReport.Summary)
		}
		if len(scanReport.Topics) > 0 {
			tags := make([]string, 0, len(scanReport.Topics))
			for _, t := range scanReport.Topics {
				tags = append(tags, fmt.Sprintf("%s (%d)", t.Tag, t.Count))
			}
			_, _ = fmt.Fprintf(w, "Topics: %s\n", strings.Join(tags, ", "))
		}
	}

	if wk == nil {
		_, _ = fmt.Fprintln(w, "\nNo weekly report yet.")
		return
	}
	msg := notify.WeeklyMessage(subj, wk)
	_, _ = fmt.Fprintf(w, "\n%s\n%s\n", msg.Title, msg.Text)
}
