package main

import (
	"fmt"
	"log"
	"os"

	"github.com/cuongbtq/jobworker/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/worker-service/config.yaml"

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "worker-service",
		Short: "Job worker service",
		Long: `Job worker service.

Polls a job broker for jobs of one type, runs the handler for each job under
a concurrency limit and reports every outcome back to the broker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("failed to load env file: %w", err)
			} else if err != nil {
				log.Println("No .env file found, using environment variables or flags")
			}
			if !cmd.Flags().Changed("config") {
				if path := os.Getenv("WORKER_SERVICE_CONFIG_PATH"); path != "" {
					opts.configPath = path
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), opts.configPath, runOptions{})
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file (env WORKER_SERVICE_CONFIG_PATH)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}

func newRunCommand(root *rootOptions) *cobra.Command {
	var run runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start polling and processing jobs",
		Long: `Start the worker. SIGINT or SIGTERM stops activation, waits for
in-flight jobs to be reported within the drain timeout and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), root.configPath, run)
		},
	}

	cmd.Flags().IntVar(&run.seedJobs, "seed-jobs", 0, "Enqueue this many demo jobs on start")

	return cmd
}

func newValidateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: job_type=%s driver=%s codec=%s max_concurrent_jobs=%d poll_mode=%s\n",
				cfg.Worker.JobType,
				cfg.Gateway.Driver,
				cfg.Gateway.Codec,
				cfg.Worker.MaxConcurrentJobs,
				cfg.Worker.PollMode,
			)
			return nil
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
