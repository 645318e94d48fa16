package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/socket-chat/chat-server/chat"
)

var rootCmd = &cobra.Command{
	Use:   "socket-chat",
	Short: "Real-time group and private chat over websockets",
	RunE:  runServer,
}

var (
	flagPort        int
	flagClientURL   string
	flagMetricsPort int
	flagLogLevel    string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&flagPort, "port", 3000, "HTTP listen port (env PORT)")
	flags.StringVar(&flagClientURL, "client-url", "", "allowed websocket origins, comma-separated; * allows all (env CLIENT_URL)")
	flags.IntVar(&flagMetricsPort, "metrics-port", -1, "prometheus listen port, negative to disable (env METRICS_PORT)")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level (env LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute socket-chat command")
	}
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg Config) (Config, error) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = flagPort
	}
	if flags.Changed("client-url") {
		cfg.ClientURL = parseOrigins(flagClientURL)
	}
	if flags.Changed("metrics-port") {
		cfg.MetricsPort = flagMetricsPort
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, cfg.Validate()
}

func setupLogger(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return log.Logger
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg, err = applyFlags(cmd, cfg); err != nil {
		return err
	}
	logger := setupLogger(cfg)

	store, err := chat.OpenStore(logger.With().Str("component", "store").Logger())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("[chat] store close error")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	router := chat.NewRouter(chat.NewRegistry(), store,
		chat.WithLogger(logger.With().Str("component", "router").Logger()),
		chat.WithMetrics(chat.NewMetrics(reg)),
	)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		_ = router.Run(ctx)
	}()

	handler := NewHTTPServer(router, cfg, logger.With().Str("component", "http").Logger())
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler.Handler(), ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Strs("origins", cfg.ClientURL).Msgf("[chat] listening on http://127.0.0.1:%d", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- errors.Wrap(err, "http server")
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsPort >= 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		log.Info().Msgf("[chat] metrics at http://127.0.0.1:%d/metrics", cfg.MetricsPort)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("[chat] metrics http stopped")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("[chat] http server shutdown error")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(sctx)
	}
	<-routerDone
	log.Info().Msg("[chat] shutdown complete")
	return runErr
}
