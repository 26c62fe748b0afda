package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show effective configuration and pool diagnostics",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fetcher := buildFetcher()
	pool := fetcher.ProxyPool()

	fmt.Fprintf(os.Stdout, "Identities:       %d\n", fetcher.IdentityCount())
	fmt.Fprintf(os.Stdout, "Attempt budget:   %d\n", cfg.RetryTimes)
	fmt.Fprintf(os.Stdout, "Timeout:          %s\n", cfg.DownloadTimeout)
	fmt.Fprintf(os.Stdout, "Pacing:           %s – %s\n", cfg.RandomDelayMin, cfg.RandomDelayMax)
	fmt.Fprintf(os.Stdout, "Retry codes:      %v\n", cfg.RetryHTTPCodes)
	fmt.Fprintf(os.Stdout, "Min body bytes:   %d\n", cfg.MinBodyBytes)
	fmt.Fprintf(os.Stdout, "Proxy strategy:   %s (retries always sequential)\n", cfg.ProxyStrategy)
	fmt.Fprintf(os.Stdout, "TLS mimic:        %v\n", cfg.TLSMimic)
	fmt.Fprintf(os.Stdout, "Robots guard:     %v\n", cfg.RespectRobots)
	fmt.Fprintf(os.Stdout, "Headless:         %v\n", cfg.HeadlessFallback)

	if !pool.HasProxies() {
		fmt.Fprintln(os.Stdout, "Proxies:          none (direct dispatch)")
		return nil
	}
	fmt.Fprintf(os.Stdout, "Proxies:          %d\n", pool.Size())
	for i, e := range pool.Endpoints() {
		fmt.Fprintf(os.Stdout, "  %d. %s\n", i+1, e.Redacted())
	}
	return nil
}
