package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/notify"
	"github.com/loqalabs/loqa-translate/internal/runtime"
)

func main() {
	var (
		configPath string
		envPath    string
		lang       string
	)
	flag.StringVar(&configPath, "config", "loqa-translate.yaml", "Path to configuration file")
	flag.StringVar(&envPath, "env", ".env", "Optional dotenv file with credentials")
	flag.StringVar(&lang, "lang", "", "Initial target language (defaults to translation.default_language)")
	flag.Parse()

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envPath, err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if lang == "" {
		lang = cfg.Translation.DefaultLanguage
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Telemetry.Level()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	panes := notify.NewDispatcher()
	rt := runtime.New(cfg, logger, panes)

	errCh := make(chan error, 1)
	go func() {
		err := rt.Start(ctx)
		panes.Close()
		errCh <- err
	}()

	select {
	case <-rt.Ready():
	case err := <-errCh:
		if err != nil {
			logger.Error("runtime exited with error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	if !slices.Contains(rt.Languages(), lang) {
		logger.Warn("unsupported language, using fallback prompt", slog.String("lang", lang))
	}
	con := newConsole(os.Stdout, rt.Controller(), rt.Languages(), lang)
	con.help()
	go con.readCommands(os.Stdin, stop)

	_ = panes.Run(context.Background(), con.render)

	if err := <-errCh; err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
