// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command iop-cored runs the Internet of Plants control-plane core against
// the real operating system (spec.md's "field device"): a WiFi station,
// sensor sampling, HTTP reporting to the monitoring server, and the captive
// portal fallback for provisioning.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/internet-of-plants/iop-core/internal/apiclient"
	"github.com/internet-of-plants/iop-core/internal/brand"
	"github.com/internet-of-plants/iop-core/internal/certstore"
	"github.com/internet-of-plants/iop-core/internal/config"
	"github.com/internet-of-plants/iop-core/internal/eventloop"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/interrupt"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/netclient"
	"github.com/internet-of-plants/iop-core/internal/panicpipe"
	"github.com/internet-of-plants/iop-core/internal/portal"
	"github.com/internet-of-plants/iop-core/internal/resetwatch"
	"github.com/internet-of-plants/iop-core/internal/sensors"
	"github.com/internet-of-plants/iop-core/internal/store"
	"github.com/internet-of-plants/iop-core/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	configPath string
	logLevel   string
	stateDir   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           brand.BinaryName,
	Short:         "Internet of Plants field device control-plane core",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/iop/config.yaml", "path to the YAML configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace,debug,info,warn,error,crit,nolog)")
	rootCmd.Flags().StringVar(&stateDir, "state-dir", "/var/lib/iop", "directory holding the persistent store and panic history")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("iop-cored: load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	cfg.Validate()

	log := logging.New(brand.BinaryName, cfg.Level())
	logging.SetTraceEnabled(cfg.Level() == logging.Trace)

	facade, err := hwfacade.NewHost()
	if err != nil {
		return fmt.Errorf("iop-cored: init hardware facade: %w", err)
	}

	st, err := store.Setup(filepath.Join(stateDir, "state.bin"))
	if err != nil {
		return fmt.Errorf("iop-cored: init persistent store: %w", err)
	}

	var certs *certstore.Store
	if cfg.TLSEnabled {
		// No bundle wired up yet: an empty Store leaves cfg.RootCAs untouched
		// (certstore.InstallInto), so the handshake falls back to the host's
		// system trust store rather than pinning. Revisit once config grows a
		// field to point at a bundle file.
		certs, err = certstore.New(nil)
		if err != nil {
			return fmt.Errorf("iop-cored: init cert store: %w", err)
		}
	}

	nc, err := netclient.Setup(cfg.BaseURI, facade, log, certs, netclient.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("iop-cored: init network client: %w", err)
	}

	queue := interrupt.New(facade, log)
	api := apiclient.New(nc, facade, log, queue)
	log.ArmRemote(apiclient.NewRemoteLogSink(api, st.GetToken))

	pipeline := panicpipe.New(facade, log, st, api, stateDir)
	defer func() {
		if r := recover(); r != nil {
			pipeline.Trigger(panicpipe.Data{Msg: fmt.Sprint(r)})
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	go serveMetrics(reg, log)

	prt := portal.New(facade, api, st, log)
	apSSID := brand.BinaryName + "-" + facade.MacAddress()
	loop := eventloop.New(facade, st, log, queue, api, prt, cfg, metrics, apSSID, "")

	watcher := resetwatch.New(facade, queue, cfg.FactoryResetPin)
	watcher.Arm()

	loop.RegisterMeasurementTask(sensors.NewSim(sensors.Reading{}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("iop-cored: starting control-plane core")
	loop.Run(ctx)
	log.Info("iop-cored: shutting down")
	return nil
}

// serveMetrics exposes the Prometheus registry on a local-only listener;
// failures are non-fatal since metrics are a diagnostic aid, not a
// spec.md-required capability (SPEC_FULL.md §4.13).
func serveMetrics(reg *prometheus.Registry, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: "127.0.0.1:9090", Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("iop-cored: metrics server exited: ", err.Error())
	}
}
