package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newApplyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Run one reconciliation and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newAgent(opts.cfg)
			if err != nil {
				return err
			}
			report, runErr := a.engine.Run(cmd.Context())
			if report != nil {
				if err := render(cmd.OutOrStdout(), opts.output, report); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if failed := report.FailedNames(); len(failed) > 0 {
				return fmt.Errorf("%d container(s) failed: %v", len(failed), failed)
			}
			return nil
		},
	}
}

func newPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change without touching anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newAgent(opts.cfg)
			if err != nil {
				return err
			}
			plan, err := a.engine.Plan(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, plan)
		},
	}
}
