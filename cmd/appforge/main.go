// Package main is the entry point for the appforge agent and preview
// orchestration service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/agent"
	"github.com/appforge/appforge/internal/common/config"
	"github.com/appforge/appforge/internal/common/logger"
	"github.com/appforge/appforge/internal/events"
	"github.com/appforge/appforge/internal/events/bus"
	"github.com/appforge/appforge/internal/preview"
	"github.com/appforge/appforge/internal/storage"
	"github.com/appforge/appforge/internal/ws"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logCfg := logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting appforge service...")

	// 3. Create context cancelled on shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Open the SQLite store
	dbPath := expandHome(cfg.Database.Path)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatal("Failed to create database directory", zap.Error(err))
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer store.Close()
	log.Info("Database ready", zap.String("path", dbPath))

	// 5. Connect the event bus (NATS when configured, in-memory otherwise)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 6. Create the broadcast hub
	hub := ws.NewHub(log)
	defer hub.Close()

	// 7. Mirror broadcast events onto the bus for other processes
	publisher := &fanoutPublisher{hub: hub, bus: provided.Bus, log: log}

	// 8. Wire the agent adapters and execution manager
	adapters := []agent.Adapter{
		agent.NewClaudeAdapter(cfg.Agent.ClaudeBinary, cfg.Agent.AvailabilityTimeoutDuration(), store, log),
		agent.NewCursorAdapter(cfg.Agent.CursorBinary, cfg.Agent.AvailabilityTimeoutDuration(), store, log),
	}
	agentManager := agent.NewManager(adapters, store, publisher, log)

	for kind, availability := range agentManager.CheckAllAvailability(ctx) {
		log.Info("Agent availability",
			zap.String("agent", string(kind)),
			zap.Bool("available", availability.Available))
	}

	// 9. Create the preview orchestrator
	previewManager := preview.NewManager(cfg.Preview, publisher, log)
	defer previewManager.StopAll()

	// 10. Listen for command events from API processes
	commands := &dispatcher{
		agents:  agentManager,
		preview: previewManager,
		bus:     provided.Bus,
		log:     log,
	}
	if err := commands.subscribe(); err != nil {
		log.Fatal("Failed to subscribe to command events", zap.Error(err))
	}

	log.Info("appforge service started")

	<-ctx.Done()
	log.Info("Shutting down...")
}

// fanoutPublisher delivers every event to live websocket observers and
// mirrors it onto the event bus. Bus failures are logged and swallowed.
type fanoutPublisher struct {
	hub *ws.Hub
	bus bus.EventBus
	log *logger.Logger
}

func (p *fanoutPublisher) Publish(projectID string, eventType string, data any) {
	p.hub.Publish(projectID, eventType, data)

	subject := bus.MessagesSubject(projectID)
	if strings.HasPrefix(eventType, "preview_") {
		subject = bus.PreviewSubject(projectID)
	}
	event := bus.NewEvent(eventType, "appforge", map[string]any{"payload": data})
	if err := p.bus.Publish(context.Background(), subject, event); err != nil {
		p.log.Warn("Failed to publish event to bus",
			zap.String("subject", subject), zap.Error(err))
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
