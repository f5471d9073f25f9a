package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"browsermcp/internal/release"
	"browsermcp/internal/smoke"
)

func smokeCmd(load configLoader) *cobra.Command {
	var (
		baseURL  string
		format   string
		failFast bool
		full     bool
	)
	var opts smoke.Options

	c := &cobra.Command{
		Use:   "smoke",
		Short: "Probe a running server: health, SSE stream, messages, 404",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := smoke.CheckFormat(format); err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("base-url") {
				baseURL = cfg.Smoke.BaseURL
			}
			if !cmd.Flags().Changed("wait") {
				opts.Wait = cfg.Smoke.Wait
			}
			if !cmd.Flags().Changed("timeout") {
				opts.Timeout = cfg.Smoke.Timeout
			}
			opts.BaseURL = baseURL
			opts.FailFast = failFast
			opts.Full = full

			rep := smoke.New(opts).Run(cmd.Context())
			if err := smoke.Print(cmd.OutOrStdout(), rep, format); err != nil {
				return err
			}
			if !rep.OK() {
				return fmt.Errorf("smoke test failed (%d failed check(s))", rep.Failed)
			}
			return nil
		},
	}

	c.Flags().StringVar(&baseURL, "base-url", "http://localhost:8000", "Server base URL")
	c.Flags().DurationVar(&opts.Wait, "wait", 0, "How long to wait for a healthy server (default from config)")
	c.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Per-request timeout (default from config)")
	c.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failing check")
	c.Flags().BoolVar(&full, "full", false, "Also run initialize and tools/list over the stream")
	c.Flags().StringVar(&format, "format", "pretty", "Output format: pretty|json")
	return c
}

func releaseCheckCmd(load configLoader) *cobra.Command {
	var root, format string

	c := &cobra.Command{
		Use:   "release-check",
		Short: "Verify that the files a release needs exist and are not empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := smoke.CheckFormat(format); err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			res := release.Check(root, cfg.Release.RequiredFiles)
			if err := printRelease(cmd.OutOrStdout(), res, format); err != nil {
				return err
			}
			return res.Err()
		},
	}
	c.Flags().StringVar(&root, "root", ".", "Repository root to check")
	c.Flags().StringVar(&format, "format", "pretty", "Output format: pretty|json")
	return c
}

func printRelease(w io.Writer, res release.Result, format string) error {
	if err := smoke.CheckFormat(format); err != nil {
		return err
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(w, "Release check: %s\n\n", res.Root)
	for _, f := range res.Files {
		if f.Present {
			fmt.Fprintf(w, "  %s %s\n", ok("✓"), f.Path)
			continue
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", bad("✗"), f.Path, f.Problem)
	}
	fmt.Fprintln(w)
	if res.OK() {
		fmt.Fprintln(w, ok("ready for release"))
	} else {
		fmt.Fprintf(w, "%s %d missing\n", bad("not ready:"), len(res.Missing()))
	}
	return nil
}
