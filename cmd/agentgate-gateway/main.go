package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentgate-io/agentgate/internal/audit"
	"github.com/agentgate-io/agentgate/internal/config"
	"github.com/agentgate-io/agentgate/internal/gateway"
	"github.com/agentgate-io/agentgate/internal/logging"
	"github.com/agentgate-io/agentgate/internal/policy"
	"github.com/agentgate-io/agentgate/internal/session"
	"github.com/agentgate-io/agentgate/internal/skill"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runFn(ctx, os.Args[1:], os.Getenv); err != nil {
		fatalf("agentgate-gateway: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

// run loads configuration and policy, builds the gateway and blocks until
// the context is cancelled. SIGHUP reloads the policy document; a reload
// failure keeps the current document in place.
func run(ctx context.Context, args []string, getenv func(string) string) error {
	fs := flag.NewFlagSet("agentgate-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to agentgate config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("AGENTGATE_CONFIG_PATH")
	}
	if cfgFile == "" {
		return fmt.Errorf("no config file: pass -config or set AGENTGATE_CONFIG_PATH")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = closeLogger() }()

	// Refuse to start against an invalid policy rather than fall back to
	// an implicit allow-all.
	loaded, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	var sink audit.Sink = audit.NopSink{}
	if cfg.AuditLogPath != "" {
		sink = audit.NewFileSink(cfg.AuditLogPath)
	}

	engine, err := policy.NewEngine(loaded, sink, logger)
	if err != nil {
		return err
	}

	skills, err := skill.LoadDir(cfg.SkillsDir)
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}

	sessions := session.Open(cfg.SessionStorePath)
	gw := gateway.New(engine, sessions, nil, sink, logger)

	logger.Info("agentgate-gateway ready",
		"policy_version", loaded.Document.Version,
		"policy_hash", loaded.Hash,
		"skills", len(skills.Names()),
		"session_store", cfg.SessionStorePath)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("agentgate-gateway shutting down")
			return nil
		case <-hup:
			if err := gw.ReloadPolicy(cfg.PolicyPath); err != nil {
				logger.Error("policy reload failed, keeping current policy", "error", err)
			}
		}
	}
}
