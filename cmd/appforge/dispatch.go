package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/agent"
	"github.com/appforge/appforge/internal/common/logger"
	"github.com/appforge/appforge/internal/events/bus"
	"github.com/appforge/appforge/internal/preview"
)

// dispatcher consumes command events from the bus and drives the execution
// and preview managers. Request producers (API processes) stay decoupled
// from this process.
type dispatcher struct {
	agents  *agent.Manager
	preview *preview.Manager
	bus     bus.EventBus
	log     *logger.Logger
}

// subscribe registers the command subscriptions. Commands for different
// projects run concurrently; callers serialize commands per project.
func (d *dispatcher) subscribe() error {
	if _, err := d.bus.Subscribe("command.execute", d.handleExecute); err != nil {
		return err
	}
	if _, err := d.bus.Subscribe("command.preview", d.handlePreview); err != nil {
		return err
	}
	return nil
}

func (d *dispatcher) handleExecute(ctx context.Context, event *bus.Event) error {
	projectID, _ := event.Data["project_id"].(string)
	instruction, _ := event.Data["instruction"].(string)
	kind, _ := event.Data["agent"].(string)
	model, _ := event.Data["model"].(string)
	workingDir, _ := event.Data["working_dir"].(string)
	initialRun, _ := event.Data["initial_run"].(bool)

	go func() {
		result, err := d.agents.Execute(context.Background(), agent.Kind(kind), agent.ExecuteRequest{
			ProjectID:   projectID,
			Instruction: instruction,
			WorkingDir:  workingDir,
			Model:       model,
			InitialRun:  initialRun,
		})
		if err != nil {
			d.log.Error("Execution command failed",
				zap.String("project_id", projectID), zap.Error(err))
			return
		}
		d.log.Info("Execution command finished",
			zap.String("project_id", projectID),
			zap.Bool("success", result.Success),
			zap.Int("messages", result.MessageCount))
	}()
	return nil
}

func (d *dispatcher) handlePreview(ctx context.Context, event *bus.Event) error {
	projectID, _ := event.Data["project_id"].(string)
	action, _ := event.Data["action"].(string)
	workingDir, _ := event.Data["working_dir"].(string)
	port, _ := event.Data["port"].(float64)
	cleanupCache, _ := event.Data["cleanup_cache"].(bool)

	go func() {
		switch action {
		case "start":
			assigned, err := d.preview.Start(context.Background(), projectID, workingDir, int(port))
			if err != nil {
				d.log.Error("Preview start failed",
					zap.String("project_id", projectID), zap.Error(err))
				return
			}
			d.log.Info("Preview running",
				zap.String("project_id", projectID), zap.Int("port", assigned))
		case "stop":
			d.preview.Stop(projectID, cleanupCache)
		default:
			d.log.Warn("Unknown preview action",
				zap.String("project_id", projectID), zap.String("action", action))
		}
	}()
	return nil
}
