package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/gemini"
	"github.com/glowpath/glowpath/internal/knowledge"
	"github.com/glowpath/glowpath/internal/mock"
	"github.com/glowpath/glowpath/internal/model"
	"github.com/glowpath/glowpath/internal/relay"
	"github.com/glowpath/glowpath/internal/session"
	"github.com/glowpath/glowpath/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use the scripted model backend (no API key needed)")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	debug := flag.Bool("debug", false, "Verbose development logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *port)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(*debug)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kb := buildKnowledge(cfg)

	dialer, agent, err := buildModel(ctx, cfg, kb, logger, *mockMode)
	if err != nil {
		logger.Fatal("model backend", zap.Error(err))
	}

	store := session.NewStore()
	r := relay.New(cfg, logger.Named("relay"), dialer, agent, kb, store)

	server := ws.NewServer(cfg, logger.Named("ws"), r)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ws.ListenAndServe(ctx, cfg, logger, mux)
	})

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

// loadConfig falls back to built-in defaults when the file does not exist.
func loadConfig(path string, port int) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = config.Default()
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	return cfg, nil
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildKnowledge(cfg *config.Config) knowledge.Searcher {
	docs := make([]knowledge.Doc, 0, len(cfg.Knowledge.Docs))
	for _, d := range cfg.Knowledge.Docs {
		docs = append(docs, knowledge.Doc{Title: d.Title, Body: d.Body})
	}
	return knowledge.NewStatic(docs)
}

func buildModel(ctx context.Context, cfg *config.Config, kb knowledge.Searcher, logger *zap.Logger, mockMode bool) (model.Dialer, model.Agent, error) {
	if mockMode || cfg.Model.Provider == "mock" {
		logger.Info("using mock model backend")
		return mock.NewDialer(logger.Named("mock")), mock.NewAgent(), nil
	}

	dialer, err := gemini.NewDialer(ctx, cfg, logger.Named("gemini"))
	if err != nil {
		return nil, nil, err
	}
	agent, err := gemini.NewAgent(ctx, cfg, kb, logger.Named("agent"))
	if err != nil {
		return nil, nil, err
	}
	return dialer, agent, nil
}
