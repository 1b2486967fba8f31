package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridgeline-av/streamctl/internal/aggregator"
	"github.com/ridgeline-av/streamctl/internal/broadcast"
	"github.com/ridgeline-av/streamctl/internal/clock"
	"github.com/ridgeline-av/streamctl/internal/config"
	"github.com/ridgeline-av/streamctl/internal/controlloop"
	"github.com/ridgeline-av/streamctl/internal/eventsink"
	"github.com/ridgeline-av/streamctl/internal/health"
	"github.com/ridgeline-av/streamctl/internal/httpapi"
	"github.com/ridgeline-av/streamctl/internal/ingest"
	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/quality"
	"github.com/ridgeline-av/streamctl/internal/retry"
	"github.com/ridgeline-av/streamctl/internal/rtmpauth"
	"github.com/ridgeline-av/streamctl/internal/statemachine"
	"github.com/ridgeline-av/streamctl/internal/transport"
	"github.com/ridgeline-av/streamctl/internal/transport/mptcp"
	"github.com/ridgeline-av/streamctl/internal/transport/srtla"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "streamctl",
	Short: "Bonded-uplink IRL streaming control plane",
	Long:  `streamctl drives adaptive quality control for bonded-uplink (MPTCP/SRTLA) IRL streaming rigs.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control plane",
	Run: func(cmd *cobra.Command, args []string) {
		runControlPlane()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("streamctl v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the resolved configuration and feature toggles",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/streamctl/streamctl.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Transport mode: %s\n", cfg.TransportMode)
	fmt.Printf("Ingest monitoring: %v\n", cfg.FeatureIngestMonitoring)
	fmt.Printf("Retry logic: %v\n", cfg.FeatureRetryLogic)
	fmt.Printf("OBS integration: %v\n", cfg.FeatureOBSIntegration)
	fmt.Printf("OBS HTTP bridge: %v\n", cfg.FeatureOBSHTTPBridge)
	fmt.Printf("RTMP auth monitor: %v\n", cfg.FeatureRTMPAuth)
	fmt.Printf("Database: %s\n", cfg.DatabasePath)
}

// components holds everything runControlPlane started, so shutdown can
// stop them in the order spec'd: control loop -> pollers/feeders ->
// broadcast client -> event sink -> HTTP server.
type components struct {
	cancelBackground context.CancelFunc
	sink             eventsink.Sink
	switcher         broadcast.Switcher
	httpServer       *httpapi.Server
}

func runControlPlane() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		// config.Load already applies tiered + security validation; any
		// error here, including the security gate, is a fatal startup
		// failure per the exit-code-1 contract.
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	log.Info("starting streamctl", "version", version, "transport_mode", cfg.TransportMode)

	healthMonitor := health.NewMonitor()

	fsm := statemachine.New(clock.Real{}, quality.High)
	retryWrapper := retry.New(fsm, retry.Config{
		Enabled:         cfg.FeatureRetryLogic,
		Attempts:        cfg.StateChangeRetryAttempts,
		InstantRecovery: cfg.InstantRecoveryEnabled,
	})
	agg := aggregator.New(aggregator.DefaultThresholds())

	ctx, cancel := context.WithCancel(context.Background())

	var feeder transport.Feeder = transport.NullFeeder{}
	switch cfg.TransportMode {
	case "srtla":
		feeder = srtla.New(srtla.Config{
			Source:       srtla.Source(cfg.SRTLAMetricsSource),
			StatsURL:     cfg.SRTLAStatsEndpoint,
			ReceiverPort: cfg.SRTLAReceiverPort,
		})
	case "mptcp", "hybrid":
		feeder = mptcp.New(mptcp.Config{StatsURL: cfg.MPTCPStatsURL})
	}
	go feeder.Run(ctx)

	var poller *ingest.Poller
	if cfg.FeatureIngestMonitoring {
		poller = ingest.New(ingest.Config{
			Enabled:    true,
			StatsURL:   cfg.IngestStatsURL,
			StreamKey:  cfg.IngestStreamKey,
			ServerType: ingest.ServerType(cfg.IngestServerType),
		})
		go poller.Run(ctx)
	}

	var switcher broadcast.Switcher = broadcast.NullSwitcher{}
	if cfg.FeatureOBSHTTPBridge {
		switcher = broadcast.NewHTTPBridgeSwitcher(broadcast.HTTPBridgeConfig{
			Host:    cfg.OBSHTTPBridgeHost,
			Port:    cfg.OBSHTTPBridgePort,
			AuthKey: cfg.OBSHTTPBridgeAuthKey,
			Timeout: time.Duration(cfg.OBSHTTPBridgeTimeout) * time.Second,
			SceneMap: sceneMap(cfg),
		})
	} else if cfg.FeatureOBSIntegration {
		switcher = broadcast.NewOBSClient(broadcast.OBSConfig{
			URL:      fmt.Sprintf("ws://%s:%d", cfg.OBSHost, cfg.OBSPort),
			Password: cfg.OBSPassword,
			SceneMap: sceneMap(cfg),
		})
	}

	var sink eventsink.Sink = eventsink.NullSink{}
	if cfg.FeatureDualMetrics || cfg.FeatureOBSIntegration || cfg.FeatureOBSHTTPBridge {
		gormSink, err := eventsink.NewAsyncGormSink(eventsink.AsyncGormSinkConfig{DatabasePath: cfg.DatabasePath})
		if err != nil {
			log.Error("failed to open event sink database, persistence disabled", "error", err)
		} else {
			sink = gormSink
		}
	}

	if cfg.FeatureRTMPAuth {
		authMonitor := rtmpauth.New(rtmpauth.Config{Enabled: true, ServiceURL: cfg.RTMPAuthServiceURL}, healthMonitor)
		go authMonitor.Run(ctx)
	}

	loop := controlloop.New(controlloop.Config{
		FSM:        fsm,
		Retry:      retryWrapper,
		Aggregator: agg,
		Feeder:     feeder,
		Poller:     poller,
		Switcher:   switcher,
		Sink:       sink,
	})
	go loop.Run(ctx)

	srv := httpapi.New(httpapi.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		Loop:   loop,
		Retry:  retryWrapper,
		Poller: poller,
		Features: httpapi.Features{
			OBSIntegration:   cfg.FeatureOBSIntegration,
			OBSHTTPBridge:    cfg.FeatureOBSHTTPBridge,
			IngestMonitoring: cfg.FeatureIngestMonitoring,
			RetryLogic:       cfg.FeatureRetryLogic,
			DualMetrics:      cfg.FeatureDualMetrics,
			SRTLATransport:   cfg.FeatureSRTLATransport,
			RTMPAuth:         cfg.FeatureRTMPAuth,
		},
	})

	comps := &components{cancelBackground: cancel, sink: sink, switcher: switcher, httpServer: srv}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		shutdownControlPlane(comps)
	}()

	log.Info("streamctl is running", "addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error("http server exited with error", "error", err)
	}
	log.Info("streamctl stopped")
}

func sceneMap(cfg *config.Config) map[quality.State]string {
	return map[quality.State]string{
		quality.High:     cfg.OBSSceneHigh,
		quality.Medium:   cfg.OBSSceneMedium,
		quality.Low:      cfg.OBSSceneLow,
		quality.VeryLow:  cfg.OBSSceneVeryLow,
		quality.Error:    cfg.OBSSceneError,
		quality.Recovery: cfg.OBSSceneMedium,
	}
}

// shutdownControlPlane stops components in order: control loop ->
// pollers/feeders (both share the background context cancelled here) ->
// broadcast client -> drain event sink -> stop HTTP server.
func shutdownControlPlane(comps *components) {
	comps.cancelBackground()

	if err := comps.switcher.Close(); err != nil {
		log.Warn("broadcast-tool client close failed", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := comps.sink.Close(drainCtx); err != nil {
		log.Warn("event sink drain failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := comps.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown failed", "error", err)
	}
}
