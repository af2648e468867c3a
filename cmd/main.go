// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	redisauth "github.com/mochi-mqtt/auth-redis"
	"github.com/mochi-mqtt/auth-redis/config"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mqtt "github.com/mochi-mqtt/server/v2"
)

func main() {
	configFile := flag.String("config", "", "path to a yaml or json config file")
	tcpAddr := flag.String("tcp", ":1883", "network address for the tcp listener, if none are configured")
	metricsAddr := flag.String("metrics", "", "network address for the prometheus metrics endpoint")
	flag.Parse()

	cfg := new(config.Config)
	if *configFile != "" {
		var err error
		cfg, err = config.FromFile(*configFile)
		if err != nil {
			slog.Default().Error("failed to read config", "error", err)
			os.Exit(1)
		}
	}

	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []listeners.Config{{Type: listeners.TypeTCP, ID: "t1", Address: *tcpAddr}}
	}

	if *metricsAddr != "" {
		cfg.MetricsAddress = *metricsAddr
	}

	var metrics *redisauth.Metrics
	if cfg.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		var err error
		metrics, err = redisauth.NewMetrics(reg)
		if err != nil {
			slog.Default().Error("failed to register metrics", "error", err)
			os.Exit(1)
		}

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			err := http.ListenAndServe(cfg.MetricsAddress, mux)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Default().Error("metrics endpoint stopped", "error", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	server := mqtt.New(cfg.ServerOptions(metrics))

	go func() {
		err := server.Serve()
		if err != nil {
			server.Log.Error("failed to start server", "error", err)
			done <- true
		}
	}()

	<-done
	server.Log.Warn("caught signal, stopping...")
	_ = server.Close()
	server.Log.Info("main.go finished")
}
