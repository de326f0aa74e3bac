// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command shuffle-executor is a thin demonstration binary: it wires
// config, logging, metrics and storage into one ShuffleExecutor, recovers
// its state store, serves until a termination signal, and shuts down
// within the documented grace period. It does not expose a network
// transport — see spec's Non-goals.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/remoteshuffle/executor/internal/executor"
	"github.com/remoteshuffle/executor/internal/statestore"
	"github.com/remoteshuffle/executor/internal/storage"
	"github.com/remoteshuffle/executor/pkg/config"
	"github.com/remoteshuffle/executor/pkg/log"
	"github.com/remoteshuffle/executor/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a shuffle-executor YAML config file")
	metricsAddr := flag.String("metrics-addr", ":9091", "address to serve /metrics on")
	flag.Parse()

	tbl, err := config.Load(*configPath)
	if err != nil {
		panic("load config failed: " + err.Error())
	}

	if err := log.Init(log.Config{
		Level:      tbl.GetWithDefault("executor.loglevel", "info"),
		Format:     tbl.GetWithDefault("executor.logformat", "json"),
		Stdout:     true,
		FilePath:   tbl.Get("executor.logfilepath"),
		MaxSizeMB:  300,
		MaxAgeDays: 10,
		MaxBackups: 20,
	}); err != nil {
		panic("init logger failed: " + err.Error())
	}

	cfg := executor.LoadExecutorConfig(tbl)
	log.Info("starting shuffle-executor", zap.String("rootDir", cfg.RootDir), zap.String("stateStorePath", cfg.StateStorePath))

	if err := metrics.RegisterAll(prometheus.DefaultRegisterer); err != nil {
		panic("register metrics failed: " + err.Error())
	}
	go serveMetrics(*metricsAddr)

	cm, err := storage.NewLocalChunkManager(cfg.RootDir, cfg.FsyncEnabled)
	if err != nil {
		panic("init chunk manager failed: " + err.Error())
	}

	store, err := statestore.OpenBoltStateStore(cfg.StateStorePath)
	if err != nil {
		panic("open state store failed: " + err.Error())
	}

	exec := executor.NewShuffleExecutor(cfg, cm, store, executor.PrometheusMetricsSink{})

	ctx := context.Background()
	if err := exec.LoadStateStore(ctx); err != nil {
		panic("load state store failed: " + err.Error())
	}

	exec.Start()
	log.Info("shuffle-executor ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	if err := exec.Stop(true); err != nil {
		log.Error("shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shuffle-executor stopped cleanly")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server exited", zap.Error(err))
	}
}
