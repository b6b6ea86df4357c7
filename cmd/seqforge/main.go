// Command seqforge trains and evaluates multi-genome sequence-to-signal models.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "seqforge",
	Short: "Train and evaluate multi-genome sequence-to-signal models",
	Long: `seqforge fits one model jointly across several genomes, each with its own
training and validation shards, and stops once validation loss has not
improved for a configured number of epochs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/job.yaml", "Path to YAML config")
	rootCmd.AddCommand(trainCmd, evalCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("seqforge: %v", err)
	}
}
