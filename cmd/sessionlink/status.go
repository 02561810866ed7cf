package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the baseline schema version and session link progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := connect(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer pool.Close()

		a, err := newApp(pool, cfg, nil, zap.L())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		version, ok, err := pool.SchemaVersion()
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "baseline schema: version %d\n", version)
		} else {
			fmt.Fprintln(out, "baseline schema: not applied")
			return nil
		}

		st, err := a.status(ctx)
		if err != nil {
			return err
		}

		state := "pending"
		if st.Completed {
			state = "applied"
		}
		fmt.Fprintf(out, "%s: %s, step %d/%d (%s)\n", st.ID, state, st.Step, st.Steps, st.Stage)

		return nil
	},
}
