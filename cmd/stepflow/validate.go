package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/v0xg/stepflow/internal/task"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <task.yaml>...",
		Short: "Check that task documents load without launching a browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := taskVars(cmd)
			if err != nil {
				return err
			}
			l := newLogger(v, cmd)
			out := cmd.OutOrStdout()

			invalid := 0
			for _, path := range args {
				t, err := task.Load(task.FromFile(path), vars)
				if err == nil {
					err = task.Validate(t.Steps)
				}
				if err != nil {
					invalid++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s: %s (%d steps)\n", path, t.Name, countSteps(t.Steps))
				for _, kind := range unknownKinds(t.Steps) {
					l.Warn("Unknown action will be skipped", "task", path, "action", kind)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d tasks invalid", invalid, len(args))
			}
			return nil
		},
	}
}

// countSteps counts every step in the tree; only composite steps own children
func countSteps(steps []task.Step) int {
	n := 0
	for _, s := range steps {
		n++
		if s.Action.Composite() {
			n += countSteps(s.Steps) + countSteps(s.OnSuccess)
		}
	}
	return n
}

func unknownKinds(steps []task.Step) []task.Kind {
	var out []task.Kind
	for _, s := range steps {
		if !s.Action.Known() {
			out = append(out, s.Action)
		}
		out = append(out, unknownKinds(s.Steps)...)
		out = append(out, unknownKinds(s.OnSuccess)...)
	}
	return out
}
