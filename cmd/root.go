package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sellergrid/stealthfetch/config"
	"github.com/sellergrid/stealthfetch/internal/fetch"
	"github.com/sellergrid/stealthfetch/internal/headless"
	"github.com/sellergrid/stealthfetch/internal/proxy"
	"github.com/sellergrid/stealthfetch/internal/robots"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "stealthfetch",
	Short: "Resilient page fetcher for targets that block automated clients",
	Long: "stealthfetch retrieves pages while disguising each request as an " +
		"independent human browsing session: rotating browser identities and " +
		"proxies, pacing dispatches, and retrying around blocks and CAPTCHAs.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("proxy", "", "Single proxy URI (overrides PROXY_URL)")
	rootCmd.PersistentFlags().Int("retries", 0, "Attempt budget per URL (overrides RETRY_TIMES)")
	rootCmd.PersistentFlags().Float64("timeout", 0, "Per-attempt timeout in seconds (overrides DOWNLOAD_TIMEOUT)")
	rootCmd.PersistentFlags().Float64("delay-min", 0, "Minimum pacing delay in seconds")
	rootCmd.PersistentFlags().Float64("delay-max", 0, "Maximum pacing delay in seconds")
	rootCmd.PersistentFlags().String("strategy", "", "First-attempt proxy strategy: random, sequential, window")
	rootCmd.PersistentFlags().Bool("headless", false, "Fall back to a headless browser when all HTTP attempts are blocked")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func initConfig() {
	cfg = config.DefaultConfig()
	cfg.LoadFromEnv()

	// Override from flags
	if v, _ := rootCmd.PersistentFlags().GetString("proxy"); v != "" {
		cfg.ProxyURL = v
	}
	if v, _ := rootCmd.PersistentFlags().GetInt("retries"); v > 0 {
		cfg.RetryTimes = v
	}
	if v, _ := rootCmd.PersistentFlags().GetFloat64("timeout"); v > 0 {
		cfg.DownloadTimeout = time.Duration(v * float64(time.Second))
	}
	if v, _ := rootCmd.PersistentFlags().GetFloat64("delay-min"); v > 0 {
		cfg.RandomDelayMin = time.Duration(v * float64(time.Second))
	}
	if v, _ := rootCmd.PersistentFlags().GetFloat64("delay-max"); v > 0 {
		cfg.RandomDelayMax = time.Duration(v * float64(time.Second))
	}
	if v, _ := rootCmd.PersistentFlags().GetString("strategy"); v != "" {
		cfg.ProxyStrategy = v
	}
	if v, _ := rootCmd.PersistentFlags().GetBool("headless"); v {
		cfg.HeadlessFallback = true
	}

	level := slog.LevelWarn
	if v, _ := rootCmd.PersistentFlags().GetBool("debug"); v {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildFetcher assembles the fetch pipeline from config.
func buildFetcher() *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithProxyPool(proxy.FromConfig(cfg)),
		fetch.WithTransport(fetch.NewHTTPTransport(cfg.TLSMimic)),
		fetch.WithLogger(slog.Default()),
	}

	if cfg.RatePerSecond > 0 {
		opts = append(opts, fetch.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)))
	}
	if cfg.RespectRobots {
		opts = append(opts, fetch.WithRobots(robots.NewChecker(&http.Client{Timeout: 10 * time.Second})))
	}
	if cfg.HeadlessFallback {
		opts = append(opts, fetch.WithRendererAlways(headless.NewEngine()))
	} else {
		opts = append(opts, fetch.WithRenderer(headless.NewEngine()))
	}

	return fetch.New(fetch.Config{
		MaxAttempts:    cfg.RetryTimes,
		Timeout:        cfg.DownloadTimeout,
		DelayMin:       cfg.RandomDelayMin,
		DelayMax:       cfg.RandomDelayMax,
		RetryCodes:     cfg.RetryHTTPCodes,
		MinBodyBytes:   cfg.MinBodyBytes,
		ProxyStrategy:  cfg.ProxyStrategy,
		RotationWindow: cfg.ProxyRotationWindow,
		MaxConcurrent:  cfg.MaxConcurrent,
	}, opts...)
}
