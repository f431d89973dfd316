package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kudoslab/kudos/config"
	"github.com/kudoslab/kudos/server"
	"github.com/kudoslab/kudos/utils"
)

func main() {
	logger := utils.Must(zap.NewProduction())
	defer logger.Sync()
	sugar := logger.Sugar()

	if len(os.Args) > 1 && os.Args[1] == "evaluate-cache" {
		os.Exit(runEvaluateCache(os.Args[2:], sugar))
	}
	runServe(sugar)
}

func runServe(sugar *zap.SugaredLogger) {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("Failed to load config", "error", err)
	}

	srv, err := server.New(cfg, sugar)
	if err != nil {
		sugar.Fatalw("Failed to create server", "error", err)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	address := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    address,
		Handler: corsMiddleware.Handler(srv.Instrumenter.Wrap(srv.Router())),
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("Shutting down server...")

		srv.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			sugar.Fatalw("Server forced to shutdown", "error", err)
		}
	}()

	sugar.Infow("Starting server", "address", address, "backend", cfg.BackendName())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("Failed to start server", "error", err)
	}

	sugar.Infow("Server exited gracefully")
}

func runEvaluateCache(args []string, sugar *zap.SugaredLogger) int {
	flags := flag.NewFlagSet("evaluate-cache", flag.ExitOnError)
	configPath := flags.String("config", "config.yaml", "path to config file")
	days := flags.Int("days", 7, "history window in days")
	format := flags.String("format", "text", "output format: text or json")
	save := flags.Bool("save", false, "persist the current snapshot before reporting")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *format != "text" && *format != "json" {
		fmt.Fprintf(os.Stderr, "unknown format %q: want text or json\n", *format)
		return 1
	}

	cfg, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Errorw("Failed to load config", "error", err)
		return 1
	}

	srv, err := server.New(cfg, sugar)
	if err != nil {
		sugar.Errorw("Failed to initialize components", "error", err)
		return 1
	}
	defer srv.Shutdown()

	report, err := srv.EvaluateCache(*days, *save)
	if err != nil {
		sugar.Errorw("Failed to evaluate cache effectiveness", "error", err)
		return 1
	}

	if *format == "json" {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			sugar.Errorw("Failed to encode report", "error", err)
			return 1
		}
		fmt.Println(string(encoded))
		return 0
	}

	fmt.Print(report.RenderText())
	return 0
}
