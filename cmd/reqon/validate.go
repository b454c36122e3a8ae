package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/executor"
)

var validateCmd = &cobra.Command{
	Use:   "validate <mission-path>",
	Short: "Load a mission and run setup without executing its pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	missionPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	loader := astmodel.JSONLoader{}
	program, err := loader.Load(missionPath)
	if err != nil {
		return fmt.Errorf("loading mission: %w", err)
	}

	ctx := context.Background()
	if _, err := executor.New(ctx, program, cfg.ToExecutorConfig()); err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	fmt.Printf("mission %q is valid: %d source(s), %d store(s), %d action(s), %d stage(s)\n",
		program.Name, len(program.Sources), len(program.Stores), len(program.Actions), len(program.Pipeline.Stages))
	return nil
}
