package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"openwork/internal/config"
	"openwork/internal/logging"
)

// Environment variables passed to the agent process.
const (
	EnvThreadID = "OPENWORK_THREAD_ID"
	EnvModel    = "OPENWORK_MODEL"
	EnvProvider = "OPENWORK_PROVIDER"
	EnvMCPURL   = "OPENWORK_MCP_URL"
	EnvRequest  = "OPENWORK_REQUEST"
)

// maxLineSize bounds one stdout line. Values snapshots carry whole files.
const maxLineSize = 16 * 1024 * 1024

// killDelay is how long an interrupted agent gets before it is killed.
const killDelay = 5 * time.Second

// ErrAgentNotFound is returned when the agent command cannot be located.
var ErrAgentNotFound = errors.New("agent command not found")

// findAgentBinary searches PATH and then the usual install locations.
// GUI apps on macOS start with a short PATH.
func findAgentBinary(command string) string {
	if filepath.IsAbs(command) {
		if info, err := os.Stat(command); err == nil && info.Mode()&0111 != 0 {
			return command
		}
		return ""
	}
	if path, err := exec.LookPath(command); err == nil {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	locations := []string{
		filepath.Join(home, ".openwork/bin", command),
		filepath.Join("/usr/local/bin", command),
		filepath.Join("/opt/homebrew/bin", command),
		filepath.Join(home, ".local/bin", command),
	}
	for _, loc := range locations {
		if info, err := os.Stat(loc); err == nil && info.Mode()&0111 != 0 {
			return loc
		}
	}
	return ""
}

// ProcessRunner runs the agent as a child process, one per run.
type ProcessRunner struct {
	command string
	args    []string
	usePTY  bool
	mcpURL  string

	// running processes by thread id, for Interrupt
	activeProcs   map[string]*exec.Cmd
	activeProcsMu sync.RWMutex
}

// NewProcessRunner creates a runner from the agent configuration.
func NewProcessRunner(cfg config.AgentConfig) *ProcessRunner {
	return &ProcessRunner{
		command:     cfg.Command,
		args:        append([]string(nil), cfg.Args...),
		usePTY:      cfg.PTY,
		activeProcs: make(map[string]*exec.Cmd),
	}
}

// SetMCPURL sets the workspace tool server URL handed to every run.
// An empty url disables it.
func (r *ProcessRunner) SetMCPURL(url string) {
	r.activeProcsMu.Lock()
	defer r.activeProcsMu.Unlock()
	r.mcpURL = url
}

func (r *ProcessRunner) trackProcess(threadID string, cmd *exec.Cmd) {
	r.activeProcsMu.Lock()
	defer r.activeProcsMu.Unlock()
	r.activeProcs[threadID] = cmd
}

func (r *ProcessRunner) untrackProcess(threadID string, cmd *exec.Cmd) {
	r.activeProcsMu.Lock()
	defer r.activeProcsMu.Unlock()
	if r.activeProcs[threadID] == cmd {
		delete(r.activeProcs, threadID)
	}
}

// Running reports whether an agent process is alive for threadID.
func (r *ProcessRunner) Running(threadID string) bool {
	r.activeProcsMu.RLock()
	defer r.activeProcsMu.RUnlock()
	_, ok := r.activeProcs[threadID]
	return ok
}

// Interrupt sends SIGINT to the process of threadID, like Ctrl+C in a
// terminal. It returns nil when nothing is running.
func (r *ProcessRunner) Interrupt(threadID string) error {
	r.activeProcsMu.RLock()
	cmd, ok := r.activeProcs[threadID]
	r.activeProcsMu.RUnlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	if err := interruptProcess(cmd); err != nil {
		logging.Debug("interrupt: process already exited", logging.Thread(threadID), logging.Err(err))
	}
	return nil
}

// Start launches the agent for req. The process is interrupted when ctx
// ends and killed if it does not exit shortly after.
func (r *ProcessRunner) Start(ctx context.Context, req Request) (Stream, error) {
	path := findAgentBinary(r.command)
	if path == "" {
		return nil, fmt.Errorf("%w: %q", ErrAgentNotFound, r.command)
	}

	r.activeProcsMu.RLock()
	if req.MCPURL == "" {
		req.MCPURL = r.mcpURL
	}
	r.activeProcsMu.RUnlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent request: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, r.args...)
	cmd.WaitDelay = killDelay
	if req.WorkspacePath != "" {
		cmd.Dir = req.WorkspacePath
	}
	cmd.Env = append(os.Environ(),
		EnvThreadID+"="+req.ThreadID,
		EnvModel+"="+req.Model.Model,
		EnvProvider+"="+req.Model.Provider,
	)
	if req.Model.EnvVar != "" && req.Model.APIKey != "" {
		cmd.Env = append(cmd.Env, req.Model.EnvVar+"="+req.Model.APIKey)
	}
	if req.MCPURL != "" {
		cmd.Env = append(cmd.Env, EnvMCPURL+"="+req.MCPURL)
	}

	s := &processStream{
		threadID: req.ThreadID,
		cmd:      cmd,
		results:  make(chan result),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	cmd.Cancel = func() error {
		s.interrupt()
		return nil
	}

	var stdout io.Reader
	if r.usePTY {
		// The tty echoes whatever is written to it, so the request goes
		// through the environment instead of stdin.
		cmd.Env = append(cmd.Env, EnvRequest+"="+string(payload))
		tty, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start agent: %w", err)
		}
		s.tty = tty
		stdout = tty
	} else {
		setupProcessGroup(cmd)
		cmd.Stdin = bytes.NewReader(append(payload, '\n'))
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start agent: %w", err)
		}
		s.stderrDone = make(chan struct{})
		go s.drainStderr(stderr)
		stdout = pipe
	}

	r.trackProcess(req.ThreadID, cmd)
	logging.Debug("agent started",
		logging.Thread(req.ThreadID),
		logging.String("command", path),
		logging.Int("pid", cmd.Process.Pid))

	s.onExit = func() { r.untrackProcess(req.ThreadID, cmd) }
	go s.read(ctx, stdout)
	return s, nil
}

type result struct {
	chunk Chunk
	err   error
}

type processStream struct {
	threadID string
	cmd      *exec.Cmd
	tty      *os.File

	results    chan result
	closed     chan struct{}
	closeOnce  sync.Once
	done       chan struct{}
	stderrDone chan struct{}

	onExit func()

	killMu      sync.Mutex
	interrupted bool
	exited      bool
	killTimer   *time.Timer

	stderrMu   sync.Mutex
	stderrTail []string
}

func (s *processStream) Next(ctx context.Context) (Chunk, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case res, ok := <-s.results:
		if !ok {
			return Chunk{}, io.EOF
		}
		return res.chunk, res.err
	}
}

// Close interrupts the process if it is still running and waits for it.
func (s *processStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.interrupt()
	})
	<-s.done
	return nil
}

func (s *processStream) send(res result) bool {
	select {
	case s.results <- res:
		return true
	case <-s.closed:
		return false
	}
}

// interrupt signals the process group once and kills it if it is still
// around after killDelay.
func (s *processStream) interrupt() {
	s.killMu.Lock()
	defer s.killMu.Unlock()
	if s.interrupted || s.exited || s.cmd.Process == nil {
		return
	}
	s.interrupted = true
	_ = interruptProcess(s.cmd)
	s.killTimer = time.AfterFunc(killDelay, func() { _ = killProcess(s.cmd) })
}

// reap marks the process as waited for and kills whatever is left of an
// interrupted process group.
func (s *processStream) reap() {
	s.killMu.Lock()
	defer s.killMu.Unlock()
	s.exited = true
	if !s.interrupted {
		return
	}
	s.killTimer.Stop()
	_ = killProcess(s.cmd)
}

func (s *processStream) read(ctx context.Context, stdout io.Reader) {
	defer close(s.done)
	defer s.onExit()
	defer close(s.results)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	stopped := false
	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 || line[0] != '{' {
			if len(line) > 0 {
				logging.Debug("agent output", logging.Thread(s.threadID), logging.String("line", string(line)))
			}
			continue
		}
		chunk, err := ParseLine(line)
		if err != nil && errors.Is(err, ErrMalformedLine) {
			logging.Warn("skipping agent output", logging.Thread(s.threadID), logging.Err(err))
			continue
		}
		if !s.send(result{chunk: chunk, err: err}) {
			stopped = true
			break
		}
		if err != nil {
			// an error line ends the run
			stopped = true
			break
		}
	}
	scanErr := scanner.Err()
	if s.tty != nil && !errors.Is(scanErr, bufio.ErrTooLong) {
		// Reading the tty after the child exits reports EIO; that is the normal end.
		scanErr = nil
	}

	if stopped || scanErr != nil {
		s.interrupt()
		_, _ = io.Copy(io.Discard, stdout)
	}
	if s.tty != nil {
		_ = s.tty.Close()
	}
	if s.stderrDone != nil {
		<-s.stderrDone
	}
	waitErr := s.cmd.Wait()
	s.reap()

	if stopped || ctx.Err() != nil {
		return
	}
	switch {
	case scanErr != nil:
		s.send(result{err: fmt.Errorf("failed to read agent output: %w", scanErr)})
	case waitErr != nil:
		if tail := s.tail(); tail != "" {
			waitErr = fmt.Errorf("%w: %s", waitErr, tail)
		}
		s.send(result{err: fmt.Errorf("agent exited: %w", waitErr)})
	}
}

func (s *processStream) drainStderr(r io.Reader) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		logging.Debug("agent stderr", logging.Thread(s.threadID), logging.String("line", line))
		s.stderrMu.Lock()
		s.stderrTail = append(s.stderrTail, line)
		if len(s.stderrTail) > 5 {
			s.stderrTail = s.stderrTail[1:]
		}
		s.stderrMu.Unlock()
	}
}

func (s *processStream) tail() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return strings.Join(s.stderrTail, "\n")
}
