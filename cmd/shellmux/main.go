package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	xterm "golang.org/x/term"

	"github.com/rpimetrics/shellmux/internal/client"
	"github.com/rpimetrics/shellmux/internal/infrastructure/config"
	"github.com/rpimetrics/shellmux/internal/infrastructure/logging"
	"github.com/rpimetrics/shellmux/internal/tui"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	serverURL := flag.String("server", "", "Websocket server URL (overrides config)")
	debugAddr := flag.String("debug", "", "Debug listen address, enables /healthz and /metrics")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	if !xterm.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "shellmux: stdout is not a terminal")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shellmux: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *debugAddr != "" {
		cfg.Debug.Enabled = true
		cfg.Debug.Addr = *debugAddr
	}
	if *dev {
		cfg.Logging.Development = true
	}

	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	model := tui.NewModel(logger.Named("tui"))
	c, err := client.New(cfg, model.Factory(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shellmux: %v\n", err)
		os.Exit(1)
	}
	model.SetClient(c)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	model.AttachProgram(program)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		logger.Error("ui stopped", zap.Error(err))
	}
	if err := c.Close(); err != nil {
		logger.Warn("teardown", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
