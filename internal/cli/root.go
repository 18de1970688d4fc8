// Package cli implements the squad command line.
package cli

import (
	goflag "flag"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var rootCmd = &cobra.Command{
	Use:   "squad",
	Short: "Fine-tune BERT for SQuAD question answering",
	Long: "squad fine-tunes a BERT span-prediction model on SQuAD features, " +
		"evaluating with the official script after every epoch.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	defer klog.Flush()
	return rootCmd.Execute()
}

func init() {
	fs := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(fs)
	rootCmd.PersistentFlags().AddGoFlagSet(fs)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(runsCmd)
}
