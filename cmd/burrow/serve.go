package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrowdev/burrow/pkg/compute"
	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/containersvc"
	"github.com/burrowdev/burrow/pkg/docstore"
	"github.com/burrowdev/burrow/pkg/eventbus"
	"github.com/burrowdev/burrow/pkg/graph"
	"github.com/burrowdev/burrow/pkg/httpapi"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
	"github.com/burrowdev/burrow/pkg/objectstore"
	"github.com/burrowdev/burrow/pkg/orchestrator"
	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/pubsub"
	"github.com/burrowdev/burrow/pkg/queue"
	"github.com/burrowdev/burrow/pkg/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the emulator",
	Long: `Start every provider declared in the deployment model, expose the
service endpoints on the edge port and the admin surface (healthz,
metrics) on the admin port. Runs until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath, _ := cmd.Flags().GetString("model")
		return serve(modelPath)
	},
}

func init() {
	serveCmd.Flags().String("model", "burrow.yaml", "Path to the deployment model")
}

func serve(modelPath string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	model, err := config.LoadModel(modelPath)
	if err != nil {
		return fmt.Errorf("loading model %s: %w", modelPath, err)
	}
	g, err := graph.Build(model)
	if err != nil {
		return fmt.Errorf("building resource graph: %w", err)
	}
	if cycles := g.DetectCycles(); len(cycles) > 0 {
		return fmt.Errorf("deployment model has dependency cycles: %v", cycles)
	}

	edgeURL := fmt.Sprintf("http://localhost:%d", cfg.PortBase)

	reg := provider.NewRegistry()
	objectStore := objectstore.NewProvider(cfg.DataDir, model.Buckets, cfg.SigningKey, edgeURL+"/s3", reg)
	docStore := docstore.NewProvider(cfg.DataDir, model.Tables, reg)
	queues := queue.NewProvider(model.Queues, reg)
	topics := pubsub.NewProvider(model.Topics, reg)
	buses := eventbus.NewProvider(model.Buses, reg)
	machines := workflow.NewProvider(model.Machines, filepath.Dir(modelPath), reg)
	functions := compute.NewProvider(model.Functions, reg)
	services := containersvc.NewProvider(model.Services, cfg.ContainerdSocket, reg)

	orch := orchestrator.New(reg, g)
	for _, p := range []provider.Provider{
		objectStore, docStore, queues, topics, buses, machines, functions, services,
	} {
		if err := orch.Register(p); err != nil {
			return err
		}
	}

	ctx := context.Background()
	if err := orch.StartAll(ctx); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(modelPath, func() {
		metrics.ModelDrift.Set(1)
	}, log.WithComponent("model-watcher"))
	if err != nil {
		logger.Warn().Err(err).Msg("model watcher unavailable")
	} else {
		defer watcher.Close()
	}

	collector := metrics.NewCollector(reg)
	collector.Start()
	defer collector.Stop()

	admin := metrics.NewAdminServer(cfg.AdminPort)
	admin.Start()

	edge := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.PortBase),
		Handler: httpapi.NewEdgeRouter(httpapi.EdgeConfig{
			ObjectStore:  objectStore,
			DocStore:     docStore,
			Queue:        queues,
			Workflow:     machines,
			QueueBaseURL: edgeURL + "/sqs",
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", edge.Addr).Msg("edge endpoint listening")
		if err := edge.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("edge endpoint failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info().Str("signal", s.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), orchestrator.StopGracePeriod)
	defer cancel()
	if err := edge.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("edge shutdown incomplete")
	}
	if err := admin.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin shutdown incomplete")
	}
	orch.StopAll(shutdownCtx)
	return nil
}
