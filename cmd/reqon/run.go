package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/executor"
	"github.com/mcclowes/reqon/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run <mission-path>",
	Short: "Run a mission",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Load and validate the mission without executing the pipeline")
	runCmd.Flags().Bool("verbose", false, "Log every event published during the run")
	runCmd.Flags().String("auth", "", "Path to a credentials file")
	runCmd.Flags().String("env", "", "Path to a reqon config file (overrides --config for this run)")
	runCmd.Flags().Bool("resume", false, "Resume from the last persisted execution state")
}

func runRun(cmd *cobra.Command, args []string) error {
	missionPath := args[0]

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	verbose, _ := cmd.Flags().GetBool("verbose")
	authPath, _ := cmd.Flags().GetString("auth")
	envPath, _ := cmd.Flags().GetString("env")
	resume, _ := cmd.Flags().GetBool("resume")
	if envPath != "" {
		cfgPath = envPath
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	loader := astmodel.JSONLoader{}
	program, err := loader.Load(missionPath)
	if err != nil {
		return fmt.Errorf("loading mission: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	if verbose {
		sub := broker.Subscribe()
		defer broker.Unsubscribe(sub)
		go func() {
			for evt := range sub {
				log.Logger.Info().
					Str("type", string(evt.Type)).
					Str("mission", evt.Mission).
					Str("action", evt.Action).
					Str("stage", evt.Stage).
					Msg("event")
			}
		}()
	}

	execCfg := cfg.ToExecutorConfig()
	execCfg.Resume = resume
	execCfg.Broker = broker
	if authPath != "" {
		execCfg.CredentialsPath = authPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	e, err := executor.New(ctx, program, execCfg)
	if err != nil {
		return fmt.Errorf("setting up mission: %w", err)
	}

	if dryRun {
		fmt.Printf("mission %q validated: %d stage(s), %d action(s), %d store(s)\n",
			program.Name, len(program.Pipeline.Stages), len(program.Actions), len(program.Stores))
		return nil
	}

	result, err := e.Run(ctx)
	if err != nil {
		return fmt.Errorf("running mission: %w", err)
	}

	for _, execErr := range result.Errors {
		log.Logger.Error().
			Str("action", execErr.Action).
			Str("kind", execErr.Kind).
			Msg(execErr.Message)
	}

	if !result.Success {
		return fmt.Errorf("mission %q failed with %d error(s)", program.Name, len(result.Errors))
	}

	fmt.Printf("mission %q completed: run %s\n", program.Name, result.RunID)
	return nil
}
