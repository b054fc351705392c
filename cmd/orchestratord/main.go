package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestrator-core/pkg/agentclient"
	"github.com/cuemby/orchestrator-core/pkg/api"
	"github.com/cuemby/orchestrator-core/pkg/background"
	"github.com/cuemby/orchestrator-core/pkg/config"
	"github.com/cuemby/orchestrator-core/pkg/detector"
	"github.com/cuemby/orchestrator-core/pkg/dispatcher"
	"github.com/cuemby/orchestrator-core/pkg/events"
	"github.com/cuemby/orchestrator-core/pkg/jobstore"
	"github.com/cuemby/orchestrator-core/pkg/log"
	"github.com/cuemby/orchestrator-core/pkg/metrics"
	"github.com/cuemby/orchestrator-core/pkg/registry"
	"github.com/cuemby/orchestrator-core/pkg/review"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
	"github.com/cuemby/orchestrator-core/pkg/upload"
)

// errStoreUnreachable marks a startup failure to reach the store, which
// exits with code 2; every other startup error exits with code 1.
var errStoreUnreachable = errors.New("store unreachable")

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errStoreUnreachable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchestratord",
	Short: "Orchestrator Core - control plane for multi-agent task execution",
	Long: `orchestratord is the control plane of a multi-agent autonomous task
execution system: it tracks jobs and agents, dispatches created jobs
to ready agents, coordinates freeze/approve/resume review checkpoints,
and detects stuck work.`,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator: API server and background task scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := storage.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to storage: %w: %w", errStoreUnreachable, err)
		}
		defer store.Close()

		uploads, err := upload.New(cfg.UploadRoot, store)
		if err != nil {
			return fmt.Errorf("init upload store: %w", err)
		}

		if cfg.AgentConfigCatalogPath != "" {
			if err := seedAgentConfigCatalog(ctx, store, cfg.AgentConfigCatalogPath); err != nil {
				return fmt.Errorf("load agent config catalog: %w", err)
			}
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()
		agents := registry.New(store, broker)
		jobs := jobstore.New(store, broker)
		client := agentclient.New()

		disp := dispatcher.New(store, client, cfg.DispatchTickInterval)
		det := detector.New(store, disp,
			detector.WithLivenessThreshold(cfg.AgentLivenessThreshold),
			detector.WithRecoveryGrace(cfg.RecoveryGraceWindow),
			detector.WithStaleThreshold(cfg.ProgressStaleThreshold),
			detector.WithEscalationThreshold(cfg.ProgressEscalationThreshold),
			detector.WithTickInterval(cfg.DetectorTickInterval),
		)
		reviewCoord := review.New(jobs, agents, client, broker, disp)

		srv := api.NewServer(api.Deps{
			Jobs:     jobs,
			Agents:   agents,
			Review:   reviewCoord,
			Detector: det,
			Uploads:  uploads,
			Store:    store,
			Client:   client,
			Broker:   broker,
			Prefix:   cfg.APIPrefix,
		})

		sched := background.New(disp, det, store, cfg.StatisticsRollupCron)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start background scheduler: %w", err)
		}

		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("dispatcher", true, "ready")
		metrics.RegisterComponent("api", false, "starting")

		httpServer := &http.Server{Addr: cfg.APIAddr, Handler: srv}
		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()
		metrics.RegisterComponent("api", true, "ready")

		log.Info(fmt.Sprintf("orchestrator listening on %s", cfg.APIAddr))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			log.Errorf("%v", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("http server shutdown: %v", err)
		}
		sched.Stop()

		log.Info("shutdown complete")
		return nil
	},
}

// seedAgentConfigCatalog loads the agent config catalog YAML file and
// upserts every entry into storage, so POST /jobs and POST /agents can
// reject an unknown config_name as a ConstraintViolation.
func seedAgentConfigCatalog(ctx context.Context, store storage.Store, path string) error {
	catalog, err := types.LoadAgentConfigCatalog(path)
	if err != nil {
		return err
	}
	for i := range catalog.Configs {
		if err := store.UpsertAgentConfig(ctx, &catalog.Configs[i]); err != nil {
			return err
		}
	}
	log.Info(fmt.Sprintf("loaded %d agent config(s) from catalog", len(catalog.Configs)))
	return nil
}
