package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/born-ml/squad/internal/store"
)

var (
	runsDBPath string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent training runs and their epochs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(runsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		return listRuns(cmd.OutOrStdout(), db, runsLimit)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsDBPath, "runs-db", RunsFile, "Run history database")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to list")
}

func listRuns(out io.Writer, db *store.DB, limit int) error {
	runs, err := db.RecentRuns(limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, r := range runs {
		trained := "-"
		if r.TrainMS != nil {
			trained = (time.Duration(*r.TrainMS) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.BertModel, r.Status,
			humanize.Time(time.UnixMilli(r.StartedAt)), trained)

		epochs, err := db.Epochs(r.RunID)
		if err != nil {
			return err
		}
		for _, e := range epochs {
			fmt.Fprintf(w, "  epoch %03d\tlr %.3e\tloss %.4e\t%.2fms\t%s\n",
				e.Epoch, e.LR, e.Loss, e.BatchMS, formatScores(e))
		}
	}
	return w.Flush()
}

func formatScores(e store.Epoch) string {
	if e.ExactMatch == nil || e.F1 == nil {
		return "not evaluated"
	}
	return fmt.Sprintf("exact_match %.2f, F1 %.2f", *e.ExactMatch, *e.F1)
}
