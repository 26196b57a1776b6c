/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// The orchestrator binary wires the record store, worker registry,
// placement scheduler, progress aggregator, and HTTP surface together
// and runs them until interrupted.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/aggregator"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/config"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/costmodel"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/dispatch"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/logging"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/metrics"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/placement"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/registry"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/server"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/store"
	"github.com/llm-d-incubation/llm-d-inference-orchestrator/internal/workqueue"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Distributed pipeline-parallel inference orchestrator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.NewLogger(cfg.LogVerbosity)

	promReg := prometheus.NewRegistry()
	if err := metrics.InitMetrics(promReg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st := store.NewMemStore()
	reg := registry.New(st, []byte(cfg.JWTSecret), cfg.CredentialTTL)
	agg := aggregator.New(st, log.WithName("aggregator"))
	client := dispatch.NewClient(cfg.DispatchTimeout, log.WithName("dispatch"))
	queue := workqueue.New(cfg.QueueCapacity)
	latency := costmodel.NewLatencyEstimator(0)

	strategy, err := placement.NewStrategy(placement.Kind(cfg.PlacementStrategy), placement.Options{
		ExpectedGenerationLength: cfg.ExpectedGenerationLength,
		Latency:                  latency,
	})
	if err != nil {
		return err
	}
	scheduler := placement.NewScheduler(queue, st, strategy, client, agg, log.WithName("scheduler"))

	srv := server.New(server.Options{
		Store:                    st,
		Registry:                 reg,
		Aggregator:               agg,
		Dispatcher:               client,
		Queue:                    queue,
		Latency:                  latency,
		MaxConcurrentCompletions: int64(cfg.MaxConcurrentCompletions),
		MaxChoices:               cfg.MaxChoices,
		PromRegistry:             promReg,
		Log:                      log.WithName("server"),
	})

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Orchestrator listening", "addr", cfg.ListenAddr, "strategy", cfg.PlacementStrategy)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			queue.Shutdown()
			return err
		}
	}

	queue.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "HTTP shutdown did not complete cleanly")
	}
	<-schedulerDone
	return nil
}
