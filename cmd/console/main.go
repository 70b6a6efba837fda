// The console is a terminal chat against the relay: typed queries in,
// assistant responses and visual command traces out.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/tui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	wsURL := flag.String("url", "", "Relay WebSocket URL (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}
	if *wsURL != "" {
		cfg.Client.URL = *wsURL
	}

	// The TUI owns the terminal; logs would corrupt it.
	logger := zap.NewNop()

	p := tea.NewProgram(tui.New(cfg, logger), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
