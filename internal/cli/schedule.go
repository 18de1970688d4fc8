package cli

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/born-ml/squad/internal/optim"
	"github.com/born-ml/squad/internal/schedule"
)

type scheduleArgs struct {
	optimizerType    string
	lr               float64
	totalSteps       int64
	warmupProportion float64
	every            int64
	json             bool
}

var sargs scheduleArgs

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the learning rate schedule of a run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedule(cmd.OutOrStdout(), sargs)
	},
}

func init() {
	f := scheduleCmd.Flags()
	f.StringVar(&sargs.optimizerType, "optimizer-type", optim.TypeAdamW, "AdamW (linear warm-up) or adam (polynomial decay)")
	f.Float64Var(&sargs.lr, "lr", 3e-5, "Peak learning rate")
	f.Int64Var(&sargs.totalSteps, "total-steps", 1000, "Number of training steps")
	f.Float64Var(&sargs.warmupProportion, "warmup-proportion", 0.1, "Fraction of steps spent warming up")
	f.Int64Var(&sargs.every, "every", 100, "Print every n-th step")
	f.BoolVar(&sargs.json, "json", false, "Print the schedule config as JSON instead")
}

// buildSchedule returns the schedule a run with these settings trains with.
func buildSchedule(a scheduleArgs) (schedule.Schedule, error) {
	warmup := int64(a.warmupProportion * float64(a.totalSteps))
	switch a.optimizerType {
	case optim.TypeAdamW:
		return schedule.NewLinearWarmupProportion(a.lr, a.warmupProportion, a.totalSteps)
	case optim.TypeAdam:
		opt, err := optim.Create(nil, a.lr, a.totalSteps, warmup, optim.TypeAdam, optim.CreateConfig{})
		if err != nil {
			return nil, err
		}
		return opt.Schedule(), nil
	default:
		return nil, errors.Wrapf(optim.ErrNotImplemented, "optimizer type %q", a.optimizerType)
	}
}

func runSchedule(out io.Writer, a scheduleArgs) error {
	if a.every <= 0 {
		return errors.Errorf("--every must be positive, got %d", a.every)
	}
	s, err := buildSchedule(a)
	if err != nil {
		return err
	}
	if a.json {
		raw, err := schedule.Marshal(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(raw))
		return nil
	}

	fmt.Fprintf(out, "%8s  %s\n", "step", "lr")
	for step := int64(0); step < a.totalSteps; step += a.every {
		fmt.Fprintf(out, "%8d  %.6e\n", step, s.LR(step))
	}
	fmt.Fprintf(out, "%8d  %.6e\n", a.totalSteps, s.LR(a.totalSteps))
	return nil
}
