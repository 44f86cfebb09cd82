package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/logger"
	"github.com/v0xg/stepflow/internal/runner"
	"github.com/v0xg/stepflow/internal/task"
)

type taskResult struct {
	path    string
	ok      bool
	entries []string
}

func newRunCmd(v *viper.Viper, launcher driver.Launcher) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task.yaml>...",
		Short: "Execute task documents in a browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, v, launcher, args)
		},
	}

	cmd.Flags().IntP("parallel", "p", 1, "Number of tasks to run at once")
	cmd.Flags().Bool("headless", false, "Override the documents' browser.headless")
	cmd.Flags().Uint64("seed", 0, "Random seed for delays and mouse paths (0 = time based)")
	cmd.Flags().String("log-file", "", "Also write execution logs to this file")
	cmd.Flags().String("error-screenshot", runner.DefaultErrorScreenshot, "Screenshot path used when a task fails")
	cmd.Flags().Int("width", 1280, "Viewport width")
	cmd.Flags().Int("height", 800, "Viewport height")
	return cmd
}

func runTasks(cmd *cobra.Command, v *viper.Viper, launcher driver.Launcher, paths []string) error {
	vars, err := taskVars(cmd)
	if err != nil {
		return err
	}
	l := newLogger(v, cmd)

	ctx := logger.ContextWithLogger(cmd.Context(), l)

	opts := runner.Options{
		Launcher:        launcher,
		ErrorScreenshot: v.GetString("error-screenshot"),
		Seed:            v.GetUint64("seed"),
		Width:           v.GetInt("width"),
		Height:          v.GetInt("height"),
	}
	if v.IsSet("headless") {
		headless := v.GetBool("headless")
		opts.Headless = &headless
	}
	r := runner.New(opts)

	parallel := v.GetInt("parallel")
	if parallel < 1 {
		parallel = 1
	}
	l.Debug("Running tasks", "count", len(paths), "parallel", parallel)

	results := make([]taskResult, len(paths))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, path := range paths {
		g.Go(func() error {
			ok, entries := r.Run(ctx, task.FromFile(path), vars)
			results[i] = taskResult{path: path, ok: ok, entries: entries}
			return nil
		})
	}
	_ = g.Wait()

	out := cmd.OutOrStdout()
	failed := 0
	for _, res := range results {
		if len(results) > 1 {
			fmt.Fprintf(out, "== %s ==\n", res.path)
		}
		printResult(out, res)
		if !res.ok {
			failed++
		}
	}

	if path := v.GetString("log-file"); path != "" {
		if err := writeLogFile(path, results); err != nil {
			return err
		}
		fmt.Fprintf(out, "Log saved to %s\n", path)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(results))
	}
	return nil
}

func printResult(w io.Writer, res taskResult) {
	fmt.Fprintln(w, strings.Join(res.entries, "\n"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 40))
	status := "SUCCESS"
	if !res.ok {
		status = "FAILED"
	}
	fmt.Fprintf(w, "Result: %s\n", status)
}

func writeLogFile(path string, results []taskResult) error {
	var b strings.Builder
	for i, res := range results {
		if len(results) > 1 {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "== %s ==\n", res.path)
		}
		b.WriteString(strings.Join(res.entries, "\n"))
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	return nil
}
