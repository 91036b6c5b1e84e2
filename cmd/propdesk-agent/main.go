package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/propdesk/propdesk/internal/agent"
	"github.com/propdesk/propdesk/internal/app"
	"github.com/propdesk/propdesk/internal/client"
	"github.com/propdesk/propdesk/internal/rbac"
)

func main() {
	if app.SkipStartup("agent") {
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := agent.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "propdesk-agent: %v\n", err)
		return 1
	}
	fs := pflag.NewFlagSet("propdesk-agent", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	check := fs.String("check", "", "resolve one permission as PAGE:ACTION and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "propdesk-agent: %v\n", err)
		return 2
	}

	logger := app.NewLogger(&app.Config{
		LogFormat:     cfg.LogFormat,
		LogLevel:      "info",
		LogFile:       cfg.LogFile,
		LogMaxSizeMB:  20,
		LogMaxBackups: 3,
	}).
		With(slog.String("process", "agent"))

	api, err := client.New(cfg.Server, cfg.Partition, cfg.HTTPTimeout, logger)
	if err != nil {
		logger.Error("init client", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := agent.New(cfg, api, nil, logger)
	if *check != "" {
		page, action, err := parseCheck(*check)
		if err != nil {
			fmt.Fprintf(os.Stderr, "propdesk-agent: %v\n", err)
			return 2
		}
		ok, err := a.Check(ctx, page, action)
		if err != nil {
			logger.Error("check", slog.Any("error", err))
			return 1
		}
		fmt.Printf("%s %s: %t\n", page, action, ok)
		if !ok {
			return 3
		}
		return 0
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("agent", slog.Any("error", err))
		return 1
	}
	return 0
}

// parseCheck splits "PAGE:ACTION"; the action defaults to view.
func parseCheck(raw string) (string, rbac.Action, error) {
	page, actionRaw := raw, string(rbac.ActionView)
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		page, actionRaw = raw[:i], raw[i+1:]
	}
	action, err := rbac.ParseAction(actionRaw)
	if err != nil {
		return "", "", err
	}
	if page == "" {
		return "", "", fmt.Errorf("page is required in %q", raw)
	}
	return page, action, nil
}
