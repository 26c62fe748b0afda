package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sellergrid/stealthfetch/internal/fetch"
	"github.com/sellergrid/stealthfetch/internal/ui"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Fetch one or more URLs through the stealth pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringP("output", "o", "", "Write body to file (single URL) or directory (multiple URLs); default stdout")
	fetchCmd.Flags().Bool("meta", false, "Print fetch metadata as JSON to stderr")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fetcher := buildFetcher()
	output, _ := cmd.Flags().GetString("output")
	showMeta, _ := cmd.Flags().GetBool("meta")

	opts := fetch.Options{Render: cfg.HeadlessFallback}

	spin := ui.NewSpinner()
	spin.Start(fmt.Sprintf("Fetching %d URL(s)...", len(args)))
	ctx := fetch.WithProgress(context.Background(), spin.Update)

	if len(args) == 1 {
		body, meta, err := fetcher.Fetch(ctx, args[0], opts)
		if err != nil {
			spin.Fail(fmt.Sprintf("%s: %v", args[0], err))
			return err
		}
		spin.Done(fmt.Sprintf("%s (%d bytes, %d attempt(s))", args[0], len(body), meta.Attempts))
		if showMeta {
			printMeta(meta)
		}
		return writeBody(body, args[0], output, false)
	}

	results := fetcher.FetchBatch(ctx, args, opts)
	spin.Stop()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.URL, r.Err)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ %s (%d bytes, %d attempt(s))\n", r.URL, len(r.Body), r.Meta.Attempts)
		if showMeta {
			printMeta(r.Meta)
		}
		if err := writeBody(r.Body, r.URL, output, true); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(results))
	}
	return nil
}

func printMeta(meta fetch.Meta) {
	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(meta)
}

func writeBody(body []byte, rawURL, output string, multi bool) error {
	if output == "" {
		_, err := os.Stdout.Write(body)
		return err
	}
	path := output
	if multi {
		if err := os.MkdirAll(output, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		path = filepath.Join(output, fileNameFor(rawURL))
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// fileNameFor derives a filesystem-safe name from a URL.
func fileNameFor(rawURL string) string {
	name := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '?', '&', '=', ':', '#':
			return '_'
		}
		return r
	}, name)
	if len(name) > 120 {
		name = name[:120]
	}
	return name + ".html"
}
