// Package supervisor owns the lifecycle of the local goosed agent server:
// locating the binary, spawning it with a fresh port and shared secret,
// waiting for it to answer, configuring it and tearing it down.
package supervisor

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/common/config"
	"github.com/cloud-on-prem/goose/internal/common/constants"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/common/portutil"
	"github.com/cloud-on-prem/goose/internal/events"
)

// Status is the server lifecycle state.
type Status = events.ServerStatus

const (
	StatusStopped  = events.StatusStopped
	StatusStarting = events.StatusStarting
	StatusRunning  = events.StatusRunning
	StatusError    = events.StatusError
)

// Environment variables read by goosed.
const (
	EnvPort      = "GOOSE_PORT"
	EnvSecretKey = "GOOSE_SERVER__SECRET_KEY"
)

// Config holds supervisor settings.
type Config struct {
	BinaryPath      string
	SearchRoot      string
	Host            string
	URL             string
	SecretKey       string
	WorkingDir      string
	Provider        string
	Model           string
	Extensions      []string
	StartupTimeout  time.Duration
	StopGracePeriod time.Duration
	RequestTimeout  time.Duration
}

// ConfigFrom maps the agent section of the application config.
func ConfigFrom(cfg config.AgentConfig) Config {
	return Config{
		BinaryPath:      cfg.BinaryPath,
		SearchRoot:      cfg.SearchRoot,
		Host:            cfg.Host,
		URL:             cfg.URL,
		SecretKey:       cfg.SecretKey,
		WorkingDir:      cfg.WorkingDir,
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		Extensions:      cfg.Extensions,
		StartupTimeout:  cfg.StartupTimeoutDuration(),
		StopGracePeriod: cfg.StopGracePeriodDuration(),
		RequestTimeout:  cfg.RequestTimeoutDuration(),
	}
}

// handle is the running server. cmd is nil for attached servers.
type handle struct {
	baseURL   string
	secretKey string
	cmd       *exec.Cmd
	exited    chan struct{}
	waitErr   error
	stopping  bool
}

// Supervisor manages one agent server.
type Supervisor struct {
	cfg        Config
	hub        *events.Hub
	logger     *logger.Logger
	clientOpts []client.Option

	mu         sync.Mutex
	status     Status
	handle     *handle
	client     *client.Client
	workingDir string
}

// New creates a stopped supervisor.
func New(cfg Config, hub *events.Hub, log *logger.Logger) *Supervisor {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = constants.AgentStartupTimeout
	}
	if cfg.StopGracePeriod <= 0 {
		cfg.StopGracePeriod = constants.AgentStopGracePeriod
	}

	s := &Supervisor{
		cfg:    cfg,
		hub:    hub,
		logger: log.WithFields(zap.String("component", "agent-supervisor")),
		status: StatusStopped,
	}
	if cfg.RequestTimeout > 0 {
		s.clientOpts = append(s.clientOpts, client.WithRequestTimeout(cfg.RequestTimeout))
	}
	return s
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsReady reports whether the server is running and a client is available.
func (s *Supervisor) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusRunning && s.client != nil
}

// Client returns the transport for the running server, or nil.
func (s *Supervisor) Client() *client.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// WorkingDir returns the directory the server was started in.
func (s *Supervisor) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workingDir == "" {
		return s.resolveWorkingDir()
	}
	return s.workingDir
}

// Endpoint returns the server's base URL, or "" when there is none.
func (s *Supervisor) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.baseURL
}

// StreamChatResponse streams a reply from the current server.
func (s *Supervisor) StreamChatResponse(ctx context.Context, messages []message.Message, sessionID, workingDir string) (io.ReadCloser, error) {
	c := s.Client()
	if c == nil {
		return nil, ErrNotRunning
	}
	return c.StreamChatResponse(ctx, messages, sessionID, workingDir)
}

// ListSessions lists the sessions stored by the current server.
func (s *Supervisor) ListSessions(ctx context.Context) ([]client.SessionInfo, error) {
	c := s.Client()
	if c == nil {
		return nil, ErrNotRunning
	}
	return c.ListSessions(ctx)
}

// ConfirmToolCall answers a tool confirmation request on the current server.
func (s *Supervisor) ConfirmToolCall(ctx context.Context, id string, confirmed bool) error {
	c := s.Client()
	if c == nil {
		return ErrNotRunning
	}
	return c.ConfirmToolCall(ctx, id, confirmed)
}

// ConfirmPermission answers a permission prompt on the current server.
func (s *Supervisor) ConfirmPermission(ctx context.Context, id string, pc client.PermissionConfirmation) error {
	c := s.Client()
	if c == nil {
		return ErrNotRunning
	}
	return c.ConfirmPermission(ctx, id, pc)
}

// GetSessionHistory fetches one stored session from the current server.
func (s *Supervisor) GetSessionHistory(ctx context.Context, sessionID string) (*client.SessionHistory, error) {
	c := s.Client()
	if c == nil {
		return nil, ErrNotRunning
	}
	return c.GetSessionHistory(ctx, sessionID)
}

func (s *Supervisor) resolveWorkingDir() string {
	if s.cfg.WorkingDir != "" {
		return s.cfg.WorkingDir
	}
	wd, err := os.Getwd()
	if err != nil {
		s.logger.Warn("failed to resolve working directory", zap.Error(err))
		return "."
	}
	s.logger.Info("no workspace folder configured, using process working directory",
		zap.String("working_dir", wd))
	return wd
}

// setStatusLocked records a transition and publishes it. Callers hold s.mu.
func (s *Supervisor) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	prev := s.status
	s.status = status
	endpoint := ""
	if s.handle != nil {
		endpoint = s.handle.baseURL
	}
	s.logger.Info("agent server status changed",
		zap.String("from", string(prev)),
		zap.String("to", string(status)))
	s.hub.Publish(events.StatusChanged{Status: status, Previous: prev, Endpoint: endpoint})
}

// failLocked moves to the error state and publishes the cause.
func (s *Supervisor) failLocked(err error) {
	s.client = nil
	s.setStatusLocked(StatusError)
	s.hub.Publish(events.ServerError{Message: err.Error(), Err: err})
}

// Start spawns the agent server and blocks until it answers its status
// probe and the post-start configuration has run.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusStarting || s.status == StatusRunning {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.setStatusLocked(StatusStarting)
	s.workingDir = s.resolveWorkingDir()

	h, c, err := s.spawnLocked()
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		return err
	}
	s.handle = h
	s.mu.Unlock()

	if err := s.waitForReady(ctx, h, c); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.handle != h {
			return errStoppedDuringStartup
		}
		s.killLocked(h)
		s.handle = nil
		err = fmt.Errorf("agent server failed to become ready: %w", err)
		s.failLocked(err)
		return err
	}

	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return errStoppedDuringStartup
	}
	s.client = c
	s.setStatusLocked(StatusRunning)
	s.mu.Unlock()

	s.logger.Info("agent server is ready", zap.String("endpoint", h.baseURL))
	s.configure(ctx, c)
	return nil
}

// spawnLocked starts the goosed process. Callers hold s.mu.
func (s *Supervisor) spawnLocked() (*handle, *client.Client, error) {
	binary, err := findBinary(s.cfg.BinaryPath, s.cfg.SearchRoot)
	if err != nil {
		return nil, nil, err
	}

	port, err := portutil.AllocatePortOn(s.cfg.Host)
	if err != nil {
		return nil, nil, err
	}
	secret, err := newSecretKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secret key: %w", err)
	}

	// exec.Command rather than CommandContext: shutdown is driven by Stop so
	// the process group gets SIGTERM before SIGKILL.
	cmd := exec.Command(binary, "agent")
	cmd.Dir = s.workingDir
	cmd.Env = append(os.Environ(),
		EnvPort+"="+strconv.Itoa(port),
		EnvSecretKey+"="+secret,
	)
	cmd.SysProcAttr = buildSysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	s.logger.Info("starting agent server",
		zap.String("binary", binary),
		zap.Int("port", port),
		zap.String("working_dir", s.workingDir))

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start goosed: %w", err)
	}

	h := &handle{
		baseURL:   "http://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)),
		secretKey: secret,
		cmd:       cmd,
		exited:    make(chan struct{}),
	}

	s.logger.Info("agent server process started", zap.Int("pid", cmd.Process.Pid))

	go s.pipeOutput("stdout", stdout)
	go s.pipeOutput("stderr", stderr)
	go s.monitorExit(h)

	return h, client.New(h.baseURL, secret, s.logger, s.clientOpts...), nil
}

// Attach adopts an agent server that was started outside the supervisor.
// Stop forgets it without terminating anything.
func (s *Supervisor) Attach(ctx context.Context, baseURL, secretKey string) error {
	s.mu.Lock()
	if s.status == StatusStarting || s.status == StatusRunning {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	h := &handle{baseURL: baseURL, secretKey: secretKey}
	s.handle = h
	s.workingDir = s.resolveWorkingDir()
	s.setStatusLocked(StatusStarting)
	s.mu.Unlock()

	c := client.New(baseURL, secretKey, s.logger, s.clientOpts...)
	if err := s.waitForReady(ctx, h, c); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.handle != h {
			return errStoppedDuringStartup
		}
		s.handle = nil
		err = fmt.Errorf("agent server at %s is not reachable: %w", baseURL, err)
		s.failLocked(err)
		return err
	}

	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return errStoppedDuringStartup
	}
	s.client = c
	s.setStatusLocked(StatusRunning)
	s.mu.Unlock()

	s.logger.Info("attached to agent server", zap.String("endpoint", baseURL))
	s.configure(ctx, c)
	return nil
}

// waitForReady polls /status with exponential backoff until it answers,
// the process exits, the startup timeout elapses or ctx is done.
func (s *Supervisor) waitForReady(ctx context.Context, h *handle, c *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	probe := func() error {
		if h.exited != nil {
			select {
			case <-h.exited:
				return backoff.Permanent(&ExitError{Err: h.waitErr})
			default:
			}
		}
		probeCtx, cancel := context.WithTimeout(ctx, constants.StatusProbeTimeout)
		defer cancel()
		if c.CheckStatus(probeCtx) {
			return nil
		}
		return errors.New("status probe failed")
	}

	notify := func(err error, next time.Duration) {
		s.logger.Debug("waiting for agent server", zap.Duration("backoff", next), zap.Error(err))
	}

	return backoff.RetryNotify(probe, backoff.WithContext(b, ctx), notify)
}

// configure runs the one-time agent setup. Failures are published and do not
// change the server status.
func (s *Supervisor) configure(ctx context.Context, c *client.Client) {
	ctx, cancel := context.WithTimeout(ctx, constants.AgentConfigureTimeout)
	defer cancel()

	if s.cfg.Provider == "" {
		s.logger.Debug("no provider configured, keeping the agent's default")
	} else {
		version := ""
		if versions, err := c.Versions(ctx); err != nil {
			s.configurationFailed("versions", err)
		} else {
			version = versions.DefaultVersion
		}

		if _, err := c.CreateAgent(ctx, client.CreateAgentRequest{
			Provider: s.cfg.Provider,
			Model:    s.cfg.Model,
			Version:  version,
		}); err != nil {
			s.configurationFailed("agent", err)
		}
	}

	for _, name := range s.cfg.Extensions {
		if err := c.AddExtension(ctx, name); err != nil {
			s.configurationFailed("extension "+name, err)
		}
	}
}

func (s *Supervisor) configurationFailed(step string, err error) {
	s.logger.Warn("agent configuration failed", zap.String("step", step), zap.Error(err))
	s.hub.Publish(events.ConfigurationFailed{Step: step, Message: err.Error()})
}

// Stop terminates the server if one is running. It always ends in the
// stopped state and never returns termination errors.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.client = nil
	if h != nil {
		h.stopping = true
	}
	s.mu.Unlock()

	if h != nil && h.cmd != nil {
		s.terminate(ctx, h)
	}

	s.mu.Lock()
	s.setStatusLocked(StatusStopped)
	s.mu.Unlock()
	return nil
}

// Up brings the server up: attached when an external URL is configured,
// spawned otherwise.
func (s *Supervisor) Up(ctx context.Context) error {
	if s.cfg.URL != "" {
		return s.Attach(ctx, s.cfg.URL, s.cfg.SecretKey)
	}
	return s.Start(ctx)
}

// Restart stops the server and brings it up again the same way it was
// first brought up.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Up(ctx)
}

func (s *Supervisor) terminate(ctx context.Context, h *handle) {
	pid := h.cmd.Process.Pid
	select {
	case <-h.exited:
		return
	default:
	}

	s.logger.Info("stopping agent server", zap.Int("pid", pid))
	if err := gracefulStop(pid); err != nil {
		s.logger.Warn("failed to signal agent server", zap.Int("pid", pid), zap.Error(err))
	}

	grace := time.NewTimer(s.cfg.StopGracePeriod)
	defer grace.Stop()
	select {
	case <-h.exited:
		s.logger.Info("agent server stopped")
		return
	case <-grace.C:
	case <-ctx.Done():
	}

	s.logger.Warn("agent server did not stop in time, force killing", zap.Int("pid", pid))
	if err := forceKill(pid); err != nil {
		s.logger.Warn("failed to kill agent server", zap.Int("pid", pid), zap.Error(err))
	}
	select {
	case <-h.exited:
	case <-time.After(time.Second):
		s.logger.Warn("agent server did not exit after force kill", zap.Int("pid", pid))
	}
}

// killLocked force kills a process that failed to start.
func (s *Supervisor) killLocked(h *handle) {
	if h.cmd == nil {
		return
	}
	h.stopping = true
	if err := forceKill(h.cmd.Process.Pid); err != nil {
		s.logger.Debug("failed to kill agent server after failed startup", zap.Error(err))
	}
}

// pipeOutput forwards the child's output to the logger line by line.
func (s *Supervisor) pipeOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug(scanner.Text(), zap.String("stream", stream))
	}
}

// monitorExit waits for the process and reports exits nobody asked for.
func (s *Supervisor) monitorExit(h *handle) {
	err := h.cmd.Wait()

	s.mu.Lock()
	h.waitErr = err
	close(h.exited)
	stopping := h.stopping
	current := s.handle == h
	running := s.status == StatusRunning
	s.mu.Unlock()

	exitCode := h.cmd.ProcessState.ExitCode()
	if stopping {
		s.logger.Debug("agent server exited", zap.Int("exit_code", exitCode))
		return
	}

	s.logger.Error("agent server exited unexpectedly", zap.Int("exit_code", exitCode), zap.Error(err))
	if !current || !running {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		return
	}
	s.handle = nil
	cause := errors.New("agent server exited unexpectedly")
	if err != nil {
		cause = fmt.Errorf("agent server exited unexpectedly: %w", err)
	}
	s.failLocked(cause)
}

func newSecretKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
