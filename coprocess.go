package termcore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RestartPolicy controls what happens when a coprocess's child exits.
type RestartPolicy int

const (
	// RestartNever leaves the coprocess removed once its child exits.
	RestartNever RestartPolicy = iota
	// RestartAlways relaunches the child unconditionally.
	RestartAlways
	// RestartOnFailure relaunches the child only if it exited with a non-zero status.
	RestartOnFailure
)

// CoprocessConfig describes one side-channel child process.
type CoprocessConfig struct {
	Command            string
	Args               []string
	Cwd                string
	Env                map[string]string
	CopyTerminalOutput bool
	RestartPolicy      RestartPolicy
	RestartDelay       time.Duration
	MaxBufferLines     int
}

var shellMetacharacters = regexp.MustCompile("[|;&$`(){}<>\r\n]")
var envNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func validateCoprocessConfig(cfg CoprocessConfig) error {
	if strings.TrimSpace(cfg.Command) == "" {
		return fmt.Errorf("coprocess: command must not be empty")
	}
	if strings.Contains(cfg.Command, "..") {
		return fmt.Errorf("coprocess: command must not contain '..'")
	}
	if shellMetacharacters.MatchString(cfg.Command) {
		return fmt.Errorf("coprocess: command contains forbidden shell metacharacters")
	}
	for _, a := range cfg.Args {
		if shellMetacharacters.MatchString(a) {
			return fmt.Errorf("coprocess: argument %q contains forbidden shell metacharacters", a)
		}
	}
	if cfg.Cwd != "" {
		if strings.Contains(cfg.Cwd, "..") {
			return fmt.Errorf("coprocess: cwd must not contain '..'")
		}
		if info, err := os.Stat(cfg.Cwd); err == nil && !info.IsDir() {
			return fmt.Errorf("coprocess: cwd %q is not a directory", cfg.Cwd)
		}
	}
	for name := range cfg.Env {
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("coprocess: invalid environment variable name %q", name)
		}
	}
	return nil
}

// lineBuffer is a bounded, mutex-guarded ring of completed output lines.
type lineBuffer struct {
	mu       sync.Mutex
	lines    []string
	maxLines int
}

func newLineBuffer(maxLines int) *lineBuffer {
	if maxLines <= 0 {
		maxLines = 10000
	}
	return &lineBuffer{maxLines: maxLines}
}

func (b *lineBuffer) push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.maxLines {
		b.lines = b.lines[len(b.lines)-b.maxLines:]
	}
}

func (b *lineBuffer) drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.lines
	b.lines = nil
	return out
}

// Coprocess is one running (or recently-died) side-channel child process.
type Coprocess struct {
	ID     string
	Config CoprocessConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool
	diedAt  time.Time
	hasDied bool

	stdoutBuf *lineBuffer
	stderrBuf *lineBuffer

	logger zerolog.Logger
}

// CoprocessManager owns the set of registered coprocesses.
type CoprocessManager struct {
	mu         sync.Mutex
	processes  map[string]*Coprocess
	logger     zerolog.Logger
}

// NewCoprocessManager creates an empty coprocess manager.
func NewCoprocessManager() *CoprocessManager {
	return &CoprocessManager{
		processes: make(map[string]*Coprocess),
		logger:    log.With().Str("component", "coprocess").Logger(),
	}
}

// Start validates cfg, spawns the child, and registers two reader goroutines for
// its stdout/stderr. Returns the assigned coprocess ID.
func (m *CoprocessManager) Start(cfg CoprocessConfig) (string, error) {
	if err := validateCoprocessConfig(cfg); err != nil {
		return "", err
	}

	id := uuid.NewString()
	cp := &Coprocess{
		ID:        id,
		Config:    cfg,
		stdoutBuf: newLineBuffer(cfg.MaxBufferLines),
		stderrBuf: newLineBuffer(cfg.MaxBufferLines),
		logger:    m.logger.With().Str("coprocess_id", id).Logger(),
	}

	if err := m.spawn(cp); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.processes[id] = cp
	m.mu.Unlock()

	return id, nil
}

func (m *CoprocessManager) spawn(cp *Coprocess) error {
	cmd := exec.Command(cp.Config.Command, cp.Config.Args...)
	if cp.Config.Cwd != "" {
		cmd.Dir = cp.Config.Cwd
	}
	if len(cp.Config.Env) > 0 {
		env := os.Environ()
		for k, v := range cp.Config.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("coprocess: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("coprocess: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("coprocess: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("coprocess: start: %w", err)
	}

	cp.mu.Lock()
	cp.cmd = cmd
	cp.stdin = stdin
	cp.running = true
	cp.hasDied = false
	cp.mu.Unlock()

	go cp.readLines(stdout, cp.stdoutBuf)
	go cp.readLines(stderr, cp.stderrBuf)
	go cp.wait()

	cp.logger.Info().Str("command", cp.Config.Command).Msg("coprocess started")
	return nil
}

func (cp *Coprocess) readLines(r io.Reader, buf *lineBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		buf.push(scanner.Text())
	}
}

func (cp *Coprocess) wait() {
	err := cp.cmd.Wait()
	cp.mu.Lock()
	cp.running = false
	cp.hasDied = true
	cp.diedAt = time.Now()
	cp.mu.Unlock()

	if err != nil {
		cp.logger.Warn().Err(err).Msg("coprocess exited")
	} else {
		cp.logger.Info().Msg("coprocess exited cleanly")
	}
}

func (cp *Coprocess) exitedCleanly() bool {
	if cp.cmd == nil || cp.cmd.ProcessState == nil {
		return true
	}
	return cp.cmd.ProcessState.ExitCode() == 0
}

// Write sends bytes to the coprocess's stdin.
func (m *CoprocessManager) Write(id string, data []byte) error {
	m.mu.Lock()
	cp, ok := m.processes[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("coprocess: unknown id %q", id)
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.running || cp.stdin == nil {
		return fmt.Errorf("coprocess: %q is not running", id)
	}
	_, err := cp.stdin.Write(data)
	return err
}

// Read drains buffered stdout lines for the coprocess.
func (m *CoprocessManager) Read(id string) ([]string, error) {
	m.mu.Lock()
	cp, ok := m.processes[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coprocess: unknown id %q", id)
	}
	return cp.stdoutBuf.drain(), nil
}

// ReadErrors drains buffered stderr lines for the coprocess.
func (m *CoprocessManager) ReadErrors(id string) ([]string, error) {
	m.mu.Lock()
	cp, ok := m.processes[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coprocess: unknown id %q", id)
	}
	return cp.stderrBuf.drain(), nil
}

// feedOutput forwards terminal output bytes to every running coprocess configured
// with CopyTerminalOutput, and applies the restart policy to any coprocess whose
// child has died since the last call.
func (m *CoprocessManager) feedOutput(data []byte) {
	m.mu.Lock()
	snapshot := make([]*Coprocess, 0, len(m.processes))
	for _, cp := range m.processes {
		snapshot = append(snapshot, cp)
	}
	m.mu.Unlock()

	for _, cp := range snapshot {
		cp.mu.Lock()
		running := cp.running
		died := cp.hasDied
		diedAt := cp.diedAt
		stdin := cp.stdin
		copyOut := cp.Config.CopyTerminalOutput
		cp.mu.Unlock()

		if running && copyOut && stdin != nil && len(data) > 0 {
			_, _ = stdin.Write(data)
			continue
		}

		if died {
			m.maybeRestart(cp, diedAt)
		}
	}
}

func (m *CoprocessManager) maybeRestart(cp *Coprocess, diedAt time.Time) {
	policy := cp.Config.RestartPolicy
	if policy == RestartNever {
		m.mu.Lock()
		delete(m.processes, cp.ID)
		m.mu.Unlock()
		return
	}

	if policy == RestartOnFailure && cp.exitedCleanly() {
		m.mu.Lock()
		delete(m.processes, cp.ID)
		m.mu.Unlock()
		return
	}

	if time.Since(diedAt) < cp.Config.RestartDelay {
		return
	}

	if err := m.spawn(cp); err != nil {
		cp.logger.Error().Err(err).Msg("coprocess restart failed, disabling further restarts")
		cp.Config.RestartPolicy = RestartNever
	}
}

// Stop closes the coprocess's stdin, kills it, and waits for the child process
// to exit. It does not wait for the reader goroutines to finish.
func (m *CoprocessManager) Stop(id string) error {
	m.mu.Lock()
	cp, ok := m.processes[id]
	if ok {
		delete(m.processes, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("coprocess: unknown id %q", id)
	}
	return stopCoprocess(cp)
}

func stopCoprocess(cp *Coprocess) error {
	cp.mu.Lock()
	cmd := cp.cmd
	stdin := cp.stdin
	cp.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}
	return nil
}

// StopAll kills and removes every registered coprocess.
func (m *CoprocessManager) StopAll() {
	m.mu.Lock()
	all := m.processes
	m.processes = make(map[string]*Coprocess)
	m.mu.Unlock()

	for _, cp := range all {
		_ = stopCoprocess(cp)
	}
}

// IDs returns the IDs of every registered coprocess.
func (m *CoprocessManager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.processes))
	for id := range m.processes {
		ids = append(ids, id)
	}
	return ids
}

// --- Wiring into Terminal ---

// Coprocesses returns the terminal's coprocess manager.
func (t *Terminal) Coprocesses() *CoprocessManager {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.coprocesses
}
