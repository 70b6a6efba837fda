// The overlay agent attaches to a Chromium page, streams frames and the
// element registry to the relay, and renders the relay's visual commands
// back onto the page.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/client"
	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/overlay"
	"github.com/glowpath/glowpath/internal/protocol"
)

const (
	framePeriod = 1 * time.Second
	scanPeriod  = 5 * time.Second
	jpegQuality = 70
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	target := flag.String("url", "about:blank", "Page to attach the overlay to")
	headless := flag.Bool("headless", false, "Run the browser headless")
	debug := flag.Bool("debug", false, "Verbose development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	logger, err := buildLogger(*debug)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	page, browser, err := openPage(*target, *headless)
	if err != nil {
		logger.Fatal("open page", zap.Error(err))
	}
	defer browser.Close()

	engine := overlay.NewEngine(overlay.NewRodDocument(page), overlay.Options{
		IdleTimeout:  cfg.Overlay.IdleTimeout,
		ExitDuration: cfg.Overlay.ExitDuration,
		StepHold:     cfg.Overlay.StepHold,
		StepPause:    cfg.Overlay.StepPause,
	}, logger.Named("overlay"))
	defer engine.Destroy()

	handlers := client.Handlers{
		OnDraw: func(m protocol.Message) {
			engine.StopSequence()
			if err := engine.Highlight(m.Selector, m.Label, m.Action); err != nil {
				logger.Warn("highlight failed", zap.String("selector", m.Selector), zap.Error(err))
			}
		},
		OnClear: func(protocol.Message) {
			engine.StopSequence()
			engine.ClearAllAnimated(ctx)
		},
		OnSequence: func(m protocol.Message) {
			engine.PlaySequence(m.Steps)
		},
		OnAudio: func(pcm []byte) {
			// The agent has no speaker; audio playback lives in the browser
			// client. Drop it.
		},
		OnError: func(detail string) {
			logger.Warn("server error", zap.String("detail", detail))
		},
		OnDisconnect: func(err error) {
			logger.Warn("relay connection dropped", zap.Error(err))
		},
	}

	conn := client.New(cfg.Client.URL, cfg.Client.ReconnectInterval, cfg.Client.MaxReconnectAttempts, handlers, logger.Named("client"))
	if err := conn.Connect(); err != nil {
		logger.Fatal("connect to relay", zap.Error(err))
	}
	defer conn.Close()

	go frameLoop(ctx, page, conn, logger)
	go scanLoop(ctx, page, conn, logger)

	<-ctx.Done()
	logger.Info("overlay agent stopped")
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openPage(url string, headless bool) (*rod.Page, *rod.Browser, error) {
	controlURL, err := launcher.New().Headless(headless).Launch()
	if err != nil {
		return nil, nil, err
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		browser.Close()
		return nil, nil, err
	}
	if err := page.WaitLoad(); err != nil {
		browser.Close()
		return nil, nil, err
	}
	return page, browser, nil
}

// frameLoop ships a viewport screenshot plus scroll offset once a second.
func frameLoop(ctx context.Context, page *rod.Page, conn *client.Connection, logger *zap.Logger) {
	ticker := time.NewTicker(framePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, scroll, err := overlay.CaptureFrame(page, jpegQuality)
			if err != nil {
				logger.Warn("capture frame", zap.Error(err))
				continue
			}
			conn.SendFrame(frame, scroll)
		}
	}
}

// scanLoop rebuilds the selector registry and pushes it when it changes.
func scanLoop(ctx context.Context, page *rod.Page, conn *client.Connection, logger *zap.Logger) {
	var last string

	push := func() {
		entries, err := overlay.Scan(page)
		if err != nil {
			logger.Warn("scan page", zap.Error(err))
			return
		}
		encoded, err := json.Marshal(entries)
		if err != nil {
			return
		}
		if string(encoded) == last {
			return
		}
		last = string(encoded)
		conn.SendSelectorMap(entries)
		logger.Info("selector registry updated", zap.Int("entries", len(entries)))
	}

	push()
	ticker := time.NewTicker(scanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			push()
		}
	}
}
