package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcclowes/reqon/pkg/log"
	"github.com/mcclowes/reqon/pkg/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve the Prometheus metrics endpoint standalone for local inspection",
	RunE:  runMetrics,
}

func init() {
	metricsCmd.Flags().String("addr", "", "Address to bind (overrides config metricsAddr)")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.MetricsAddr
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Logger.Info().Str("addr", addr).Msg("serving metrics")
	return server.ListenAndServe()
}
