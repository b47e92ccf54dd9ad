package preview

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/config"
	"github.com/appforge/appforge/internal/common/errors"
	"github.com/appforge/appforge/internal/common/logger"
)

const (
	earlyExitCheck = 2 * time.Second
	stopGrace      = 5 * time.Second
	cacheCleanWait = 30 * time.Second
)

// Status values returned by Status.
const (
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusNotFound = "not_found"
)

// processRecord tracks one live dev-server process. Exactly one record per
// project; starting a new one tears the old one down first.
type processRecord struct {
	projectID     string
	cmd           *exec.Cmd
	port          int
	workingDir    string
	buffer        *logBuffer
	cancelMonitor context.CancelFunc
	startedAt     time.Time

	// done closes when the process has exited and been reaped.
	done chan struct{}
}

func (r *processRecord) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Manager orchestrates preview dev-server processes, one per project.
// Callers are expected to serialize preview operations per project;
// concurrent calls for the same project race with last-start-wins.
type Manager struct {
	cfg       config.PreviewConfig
	publisher Publisher
	logger    *logger.Logger

	mu      sync.Mutex
	records map[string]*processRecord
}

// NewManager creates a preview orchestrator.
func NewManager(cfg config.PreviewConfig, publisher Publisher, log *logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		publisher: publisher,
		logger:    log.WithFields(zap.String("component", "preview")),
		records:   make(map[string]*processRecord),
	}
}

// Start launches the dev server for a project, installing dependencies
// first when the manifest changed. Any existing process for the project is
// stopped first. Returns the port the server listens on.
func (m *Manager) Start(ctx context.Context, projectID, workingDir string, port int) (int, error) {
	log := m.logger.WithProjectID(projectID)

	// No partial-overlap state: the old process goes away before anything
	// for the new one is touched.
	m.Stop(projectID, false)

	if workingDir == "" {
		return 0, errors.Validation("working_dir", "working directory is not set")
	}
	info, err := os.Stat(workingDir)
	if err != nil || !info.IsDir() {
		return 0, errors.Validation("working_dir", fmt.Sprintf("working directory does not exist: %s", workingDir))
	}
	if _, err := os.Stat(filepath.Join(workingDir, "package.json")); err != nil {
		return 0, errors.Validation("working_dir", fmt.Sprintf("no package.json found in %s", workingDir))
	}

	if needsInstall(workingDir, log) {
		lock := NewInstallLock(workingDir, m.cfg.LockStaleDuration(), log)
		if lock.Acquire() {
			err := func() error {
				defer lock.Release()
				return runInstall(ctx, workingDir, m.cfg.PackageManager, m.cfg.InstallTimeoutDuration(), log)
			}()
			if err != nil {
				return 0, errors.ProcessStart("dependency install failed", err.Error())
			}
		} else {
			// Another install is in flight; assume it will finish.
			log.Info("install lock contended, skipping install")
		}
	}

	if port == 0 {
		port, err = allocatePort(m.cfg.PortStart, m.cfg.PortEnd, m.heldPorts())
		if err != nil {
			return 0, err
		}
	}

	record, err := m.spawn(projectID, workingDir, port, log)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.records[projectID] = record
	m.mu.Unlock()

	log.Info("preview started",
		zap.Int("port", port),
		zap.Int("pid", record.cmd.Process.Pid))
	return port, nil
}

// spawn starts the dev-server process in its own process group, verifies it
// survives the early-exit window, and attaches the log monitor.
func (m *Manager) spawn(projectID, workingDir string, port int, log *logger.Logger) (*processRecord, error) {
	cmd := exec.Command(m.cfg.PackageManager, "run", "dev", "--", "--port", strconv.Itoa(port))
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(),
		"NODE_ENV=development",
		"NEXT_TELEMETRY_DISABLED=1",
		"NPM_CONFIG_UPDATE_NOTIFIER=false",
		"PORT="+strconv.Itoa(port),
	)
	// Own process group so the whole npm/node tree dies together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.ProcessStart("failed to open output pipe", err.Error())
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.ProcessStart("failed to start dev server", err.Error())
	}

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	record := &processRecord{
		projectID:     projectID,
		cmd:           cmd,
		port:          port,
		workingDir:    workingDir,
		buffer:        newLogBuffer(),
		cancelMonitor: cancelMonitor,
		startedAt:     time.Now(),
		done:          make(chan struct{}),
	}

	monitor := newLogMonitor(projectID, record.buffer, m.publisher, m.logger)
	go func() {
		monitor.run(monitorCtx, stdout)
		_ = cmd.Wait()
		close(record.done)
	}()

	// A server that dies immediately surfaces its output instead of a
	// silent "running" that is already gone.
	select {
	case <-record.done:
		cancelMonitor()
		output := strings.Join(record.buffer.Tail(50), "\n")
		return nil, errors.ProcessStart("dev server exited immediately", output)
	case <-time.After(earlyExitCheck):
	}

	return record, nil
}

// Stop terminates a project's dev server: SIGTERM to the process group, a
// grace period, then SIGKILL. Unknown projects are a no-op. cleanupCache
// additionally runs a best-effort package manager cache clean.
func (m *Manager) Stop(projectID string, cleanupCache bool) {
	m.mu.Lock()
	record, ok := m.records[projectID]
	delete(m.records, projectID)
	m.mu.Unlock()

	if ok {
		m.terminate(record)
	}

	if cleanupCache && ok {
		m.cleanCache(record.workingDir)
	}
}

func (m *Manager) terminate(record *processRecord) {
	log := m.logger.WithProjectID(record.projectID)
	defer record.cancelMonitor()

	if record.exited() {
		return
	}

	pgid := -record.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		log.Debug("SIGTERM failed, process may be gone", zap.Error(err))
	}

	select {
	case <-record.done:
		log.Info("preview stopped")
		return
	case <-time.After(stopGrace):
	}

	log.Warn("preview did not stop gracefully, killing process group")
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil {
		log.Debug("SIGKILL failed", zap.Error(err))
	}
	<-record.done
}

func (m *Manager) cleanCache(workingDir string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheCleanWait)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.cfg.PackageManager, "cache", "clean", "--force")
	cmd.Dir = workingDir
	if err := cmd.Run(); err != nil {
		m.logger.Debug("cache clean failed", zap.Error(err))
	}
}

// Status reports a project's preview state and self-heals the registry:
// a record whose process exited without Stop is removed.
func (m *Manager) Status(projectID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[projectID]
	if !ok {
		return StatusNotFound
	}
	if record.exited() {
		record.cancelMonitor()
		delete(m.records, projectID)
		return StatusStopped
	}
	return StatusRunning
}

// Port returns the port of a running preview, or false when none.
func (m *Manager) Port(projectID string) (int, bool) {
	if m.Status(projectID) != StatusRunning {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[projectID]
	if !ok {
		return 0, false
	}
	return record.port, true
}

// Logs returns the full buffered output for a project, oldest first.
func (m *Manager) Logs(projectID string) []string {
	m.mu.Lock()
	record, ok := m.records[projectID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return record.buffer.Lines()
}

// TailLogs returns the last n buffered lines for a project.
func (m *Manager) TailLogs(projectID string, n int) []string {
	m.mu.Lock()
	record, ok := m.records[projectID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return record.buffer.Tail(n)
}

// Running returns the project ids with live preview processes.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var running []string
	for projectID, record := range m.records {
		if record.exited() {
			record.cancelMonitor()
			delete(m.records, projectID)
			continue
		}
		running = append(running, projectID)
	}
	return running
}

// StopAll stops every live preview. Used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	records := make([]*processRecord, 0, len(m.records))
	for projectID, record := range m.records {
		delete(m.records, projectID)
		records = append(records, record)
	}
	m.mu.Unlock()

	for _, record := range records {
		m.terminate(record)
	}
}

func (m *Manager) heldPorts() map[int]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := make(map[int]bool, len(m.records))
	for _, record := range m.records {
		held[record.port] = true
	}
	return held
}
