// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command iop-sim drives the Event Loop against hwfacade.Sim, the way
// flywall-sim drives its scheduling loop against a sim kernel: no real
// network, no real WiFi radio, a clock that only advances when told to.
// It is meant for manually exploring the credential-acquisition and
// reporting strategies against a scripted backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/internet-of-plants/iop-core/internal/apiclient"
	"github.com/internet-of-plants/iop-core/internal/certstore"
	"github.com/internet-of-plants/iop-core/internal/config"
	"github.com/internet-of-plants/iop-core/internal/eventloop"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/interrupt"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/netclient"
	"github.com/internet-of-plants/iop-core/internal/portal"
	"github.com/internet-of-plants/iop-core/internal/sensors"
	"github.com/internet-of-plants/iop-core/internal/store"
	"github.com/internet-of-plants/iop-core/internal/telemetry"
)

var (
	iterations int
	tick       time.Duration
	wifiSSID   string
	wifiPSK    string
	stateDir   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "iop-sim",
	Short:         "Drive the Internet of Plants Event Loop against a deterministic simulator",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().IntVar(&iterations, "iterations", 20, "number of Event Loop iterations to run")
	rootCmd.Flags().DurationVar(&tick, "tick", 30*time.Second, "how far the mock clock advances between iterations")
	rootCmd.Flags().StringVar(&wifiSSID, "wifi-ssid", "simulated", "station SSID to pre-seed in the store")
	rootCmd.Flags().StringVar(&wifiPSK, "wifi-psk", "simulated-password", "station PSK to pre-seed in the store")
	rootCmd.Flags().StringVar(&stateDir, "state-dir", "", "directory for the persistent store (defaults to a temp dir)")
}

func run(cmd *cobra.Command, args []string) error {
	log := logging.New("iop-sim", logging.Trace)
	logging.SetTraceEnabled(true)

	// The scripted backend always authenticates and accepts events, so a
	// run demonstrates the full connect -> authenticate -> report cycle
	// without any external dependency.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/user/login":
			var tok store.AuthToken
			copy(tok[:], []byte("simulated0000000000000000000000000000000000000000000000000000001"))
			w.Write(tok[:])
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	facade := hwfacade.NewSim(time.Unix(0, 0), "02:00:00:00:00:01")

	dir := stateDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "iop-sim-*")
		if err != nil {
			return fmt.Errorf("iop-sim: create temp state dir: %w", err)
		}
		defer os.RemoveAll(dir)
	}
	st, err := store.Setup(filepath.Join(dir, "state.bin"))
	if err != nil {
		return fmt.Errorf("iop-sim: init store: %w", err)
	}
	if wifiSSID != "" {
		var creds hwfacade.Credentials
		copy(creds.SSID[:], wifiSSID)
		copy(creds.PSK[:], wifiPSK)
		if _, err := st.SetWifi(creds); err != nil {
			return fmt.Errorf("iop-sim: seed wifi credentials: %w", err)
		}
	}

	certs, err := certstore.New(nil)
	if err != nil {
		return fmt.Errorf("iop-sim: init cert store: %w", err)
	}
	nc, err := netclient.Setup(srv.URL, facade, log, certs, time.Second)
	if err != nil {
		return fmt.Errorf("iop-sim: init network client: %w", err)
	}

	queue := interrupt.New(facade, log)
	api := apiclient.New(nc, facade, log, queue)
	prt := portal.New(facade, api, st, log)
	cfg := config.Default()
	cfg.BaseURI = srv.URL
	cfg.HardcodedIop = &config.Credentials{Name: "sim@example.com", Password: "simulated"}

	metrics := telemetry.New(prometheus.NewRegistry())
	loop := eventloop.New(facade, st, log, queue, api, prt, cfg, metrics, "iop-sim-ap", "")
	loop.RegisterMeasurementTask(sensors.NewSim(sensors.Reading{AirTempC: 24.5, AirHumidityPct: 55}))

	ctx := context.Background()
	for i := 0; i < iterations; i++ {
		loop.RunIterations(ctx, 1)
		facade.Clock().Advance(tick)
	}

	log.Info("iop-sim: run complete")
	return nil
}
