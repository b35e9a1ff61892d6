package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketnews",
		Short:         "Analyze market news with several AI raters and alert on consensus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(pollCmd())
	root.AddCommand(processCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(digestCmd())
	root.AddCommand(eligibilityCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func pollCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch news sources once and queue new items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "poll even when the weekend gate would skip")
	return cmd
}

func processCmd() *cobra.Command {
	var itemID int64

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Scrape, analyze and alert on one stored item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(itemID)
		},
	}

	cmd.Flags().Int64Var(&itemID, "item", 0, "item id")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func workerCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the processing queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(workers)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (default: from config)")
	return cmd
}

func digestCmd() *cobra.Command {
	var (
		digestType string
		force      bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Send the digest due now, or force one window with --type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(digestType, force, dryRun)
		},
	}

	cmd.Flags().StringVar(&digestType, "type", "", "digest type: premarket, lunch, postmarket, weekly")
	cmd.Flags().BoolVar(&force, "force", false, "send the latest window of --type regardless of schedule")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "rank and print without sending (with --force)")
	return cmd
}

func eligibilityCmd() *cobra.Command {
	var (
		since      string
		until      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "eligibility",
		Short: "Re-evaluate alert decisions over stored analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEligibility(since, until, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date or timestamp (default: 24h ago)")
	cmd.Flags().StringVar(&until, "until", "", "end date or timestamp (default: now)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler, queue workers and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
