// sandbox.go: Module sandboxes, the isolation boundary around module code
//
// Copyright (c) 2025 ModShell contributors
// SPDX-License-Identifier: MPL-2.0

package modshell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// builtinPathPrefix marks a descriptor assembly path as an in-process
// builtin module rather than an external binary.
const builtinPathPrefix = "builtin:"

// Handshake protocol constants shared with module binaries. A module
// process announces itself on stdout with a single line:
//
//	MODSHELL|1|{"info":{...},"manifest":{...}}
//
// and then serves JSON request/response lines over stdin/stdout.
const (
	handshakeMagic   = "MODSHELL"
	protocolVersion  = "1"
	handshakeTimeout = 10 * time.Second
	requestTimeout   = 30 * time.Second
)

// SandboxKind distinguishes in-process builtins from module processes.
type SandboxKind int

const (
	SandboxBuiltin SandboxKind = iota
	SandboxProcess
)

func (k SandboxKind) String() string {
	switch k {
	case SandboxBuiltin:
		return "builtin"
	case SandboxProcess:
		return "process"
	default:
		return "unknown"
	}
}

// SandboxStatus tracks a sandbox through its collectible lifetime.
// Unloading is best-effort: a draining sandbox has been asked to go away
// but its resources may linger until Done() closes.
type SandboxStatus int32

const (
	SandboxActive SandboxStatus = iota
	SandboxDraining
	SandboxClosed
)

func (s SandboxStatus) String() string {
	switch s {
	case SandboxActive:
		return "active"
	case SandboxDraining:
		return "draining"
	case SandboxClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// builtin module constructors, registered at program init.
var (
	builtinMu      sync.RWMutex
	builtinModules = make(map[string]func(core *CoreServices) Module)
)

// RegisterBuiltin makes an in-process module constructor available under
// name. Typically called from a module package's init function. The last
// registration for a name wins.
func RegisterBuiltin(name string, constructor func() Module) {
	RegisterBuiltinFactory(name, func(*CoreServices) Module { return constructor() })
}

// RegisterBuiltinFactory registers a builtin constructor that receives
// the host service bundle at instantiation time, for builtins whose
// construction needs host facilities rather than receiving them later in
// Initialize. The bundle may be nil when the sandbox loader runs
// standalone.
func RegisterBuiltinFactory(name string, constructor func(core *CoreServices) Module) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtinModules[strings.ToLower(name)] = constructor
}

func lookupBuiltin(name string) (func(core *CoreServices) Module, bool) {
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	constructor, ok := builtinModules[strings.ToLower(name)]
	return constructor, ok
}

// moduleKeyFromPath derives the sandbox identity from an assembly path:
// the file name without extension, lower-cased. Builtin paths use the
// name after the prefix.
func moduleKeyFromPath(path string) string {
	if strings.HasPrefix(path, builtinPathPrefix) {
		return strings.ToLower(strings.TrimPrefix(path, builtinPathPrefix))
	}
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// ModuleSandbox wraps one loaded module instance together with the
// isolation context it runs in. Builtins share the host process; module
// binaries run as child processes speaking the stdio protocol.
type ModuleSandbox struct {
	name   string
	path   string
	kind   SandboxKind
	module Module
	proc   *processModule

	status    atomic.Int32
	done      chan struct{}
	drainOnce sync.Once

	loadedAt time.Time
	logger   Logger
}

// Name returns the sandbox key (file stem or builtin name).
func (s *ModuleSandbox) Name() string { return s.name }

// Path returns the assembly path the sandbox was loaded from.
func (s *ModuleSandbox) Path() string { return s.path }

// Kind reports whether this is a builtin or a module process.
func (s *ModuleSandbox) Kind() SandboxKind { return s.kind }

// Module returns the module instance hosted by this sandbox.
func (s *ModuleSandbox) Module() Module { return s.module }

// LoadedAt returns when the sandbox was created.
func (s *ModuleSandbox) LoadedAt() time.Time { return s.loadedAt }

// Status reports the current lifecycle phase.
func (s *ModuleSandbox) Status() SandboxStatus {
	return SandboxStatus(s.status.Load())
}

// Done returns a channel closed once the sandbox has fully released its
// resources. For a builtin that is immediate; for a process it closes
// after the child exits.
func (s *ModuleSandbox) Done() <-chan struct{} { return s.done }

// HealthAddr returns the gRPC health endpoint a module process announced
// in its handshake, or "" when none was given.
func (s *ModuleSandbox) HealthAddr() string {
	if s.proc == nil {
		return ""
	}
	return s.proc.healthAddr
}

// drain starts best-effort teardown and returns immediately. Repeated
// calls are no-ops.
func (s *ModuleSandbox) drain() {
	s.drainOnce.Do(func() {
		s.status.Store(int32(SandboxDraining))
		go func() {
			defer withStackRecover(s.logger)()
			if s.proc != nil {
				s.proc.shutdown(s.logger)
			}
			s.status.Store(int32(SandboxClosed))
			close(s.done)
		}()
	})
}

// SandboxLoader creates and tracks sandboxes, one per assembly path stem.
// Loading the same path twice returns the existing sandbox.
type SandboxLoader struct {
	mu        sync.RWMutex
	sandboxes map[string]*ModuleSandbox
	core      *CoreServices
	logger    Logger
}

// NewSandboxLoader creates an empty loader.
func NewSandboxLoader(logger Logger) *SandboxLoader {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &SandboxLoader{
		sandboxes: make(map[string]*ModuleSandbox),
		logger:    logger,
	}
}

// SetCore installs the host bundle handed to builtin factory
// constructors. The module loader calls this once during wiring.
func (l *SandboxLoader) SetCore(core *CoreServices) {
	l.mu.Lock()
	l.core = core
	l.mu.Unlock()
}

// Load creates a sandbox for the given assembly path, or returns the one
// already tracking that path's stem. Builtin paths resolve through the
// builtin registry; anything else is started as a child process and must
// complete the stdio handshake before Load returns.
func (l *SandboxLoader) Load(ctx context.Context, path string) (*ModuleSandbox, error) {
	key := moduleKeyFromPath(path)

	l.mu.RLock()
	existing := l.sandboxes[key]
	l.mu.RUnlock()
	if existing != nil && existing.Status() == SandboxActive {
		l.logger.Debug("Sandbox already loaded, reusing", "name", key)
		return existing, nil
	}

	sandbox, err := l.create(ctx, key, path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	// Recheck under the write lock; a concurrent Load may have won.
	if racer := l.sandboxes[key]; racer != nil && racer.Status() == SandboxActive {
		l.mu.Unlock()
		sandbox.drain()
		return racer, nil
	}
	l.sandboxes[key] = sandbox
	l.mu.Unlock()

	l.logger.Info("Sandbox loaded",
		"name", key,
		"kind", sandbox.kind.String(),
		"path", path)
	return sandbox, nil
}

func (l *SandboxLoader) create(ctx context.Context, key, path string) (*ModuleSandbox, error) {
	sandbox := &ModuleSandbox{
		name:     key,
		path:     path,
		done:     make(chan struct{}),
		loadedAt: timecache.CachedTime(),
		logger:   l.logger,
	}

	if strings.HasPrefix(path, builtinPathPrefix) {
		constructor, ok := lookupBuiltin(key)
		if !ok {
			return nil, NewBuiltinNotFoundError(key)
		}
		l.mu.RLock()
		core := l.core
		l.mu.RUnlock()
		sandbox.kind = SandboxBuiltin
		sandbox.module = constructor(core)
		return sandbox, nil
	}

	proc, err := startProcessModule(ctx, path, l.logger)
	if err != nil {
		return nil, NewSandboxLoadError(path, err)
	}
	sandbox.kind = SandboxProcess
	sandbox.module = proc
	sandbox.proc = proc
	return sandbox, nil
}

// Unload begins best-effort teardown of the named sandbox and removes it
// from tracking. The returned sandbox's Done channel signals completion.
// Unknown names log a warning and return nil.
func (l *SandboxLoader) Unload(name string) *ModuleSandbox {
	key := strings.ToLower(name)

	l.mu.Lock()
	sandbox := l.sandboxes[key]
	delete(l.sandboxes, key)
	l.mu.Unlock()

	if sandbox == nil {
		l.logger.Warn("Unload requested for unknown sandbox", "name", name)
		return nil
	}
	sandbox.drain()
	l.logger.Info("Sandbox unloading", "name", key, "kind", sandbox.kind.String())
	return sandbox
}

// Get returns the sandbox tracked under name.
func (l *SandboxLoader) Get(name string) (*ModuleSandbox, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sandbox, ok := l.sandboxes[strings.ToLower(name)]
	return sandbox, ok
}

// Sandboxes returns a snapshot of all tracked sandboxes.
func (l *SandboxLoader) Sandboxes() []*ModuleSandbox {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*ModuleSandbox, 0, len(l.sandboxes))
	for _, sandbox := range l.sandboxes {
		out = append(out, sandbox)
	}
	return out
}

// Close drains every tracked sandbox and waits for them to finish or for
// the context to expire.
func (l *SandboxLoader) Close(ctx context.Context) error {
	l.mu.Lock()
	draining := make([]*ModuleSandbox, 0, len(l.sandboxes))
	for _, sandbox := range l.sandboxes {
		draining = append(draining, sandbox)
	}
	l.sandboxes = make(map[string]*ModuleSandbox)
	l.mu.Unlock()

	for _, sandbox := range draining {
		sandbox.drain()
	}
	for _, sandbox := range draining {
		select {
		case <-sandbox.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// handshakePayload is the JSON document a module process prints after the
// protocol magic during startup.
type handshakePayload struct {
	Info       ModuleInfo     `json:"info"`
	Manifest   ModuleManifest `json:"manifest"`
	HealthAddr string         `json:"health_addr,omitempty"`
}

// moduleRequest and moduleResponse are the stdio protocol frames, one
// JSON object per line in each direction.
type moduleRequest struct {
	Op     string         `json:"op"`
	Config map[string]any `json:"config,omitempty"`
	State  map[string]any `json:"state,omitempty"`
}

type moduleResponse struct {
	OK    bool           `json:"ok"`
	Error string         `json:"error,omitempty"`
	State map[string]any `json:"state,omitempty"`
}

// processModule proxies the Module interface over a child process's
// stdin/stdout. Requests are serialized; the protocol has no request IDs
// so at most one operation is in flight.
type processModule struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      *json.Encoder
	stdout     *bufio.Scanner
	info       ModuleInfo
	manifest   ModuleManifest
	healthAddr string
	exited     chan struct{}
}

// newModuleCommand prepares the child process command for a module
// binary. The working directory is the module's own directory so the
// module resolves its private assets first.
func newModuleCommand(path string) *exec.Cmd {
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	return cmd
}

func startProcessModule(ctx context.Context, path string, logger Logger) (*processModule, error) {
	cmd := newModuleCommand(path)
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &processModule{
		cmd:    cmd,
		stdin:  json.NewEncoder(stdinPipe),
		stdout: bufio.NewScanner(stdoutPipe),
		exited: make(chan struct{}),
	}
	go func() {
		defer withStackRecover(logger)()
		_ = cmd.Wait()
		close(p.exited)
	}()

	if err := p.handshake(ctx); err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	return p, nil
}

// handshake reads and validates the announcement line.
func (p *processModule) handshake(ctx context.Context) error {
	deadline := timecache.CachedTime().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		if p.stdout.Scan() {
			lineCh <- p.stdout.Text()
			return
		}
		if err := p.stdout.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- NewModuleHandshakeError("module process closed stdout before handshake", nil)
	}()

	var line string
	select {
	case line = <-lineCh:
	case err := <-errCh:
		return err
	case <-time.After(time.Until(deadline)):
		return NewModuleHandshakeError("handshake timed out", nil)
	case <-ctx.Done():
		return ctx.Err()
	}

	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 || parts[0] != handshakeMagic {
		return NewModuleHandshakeError("malformed handshake line", nil)
	}
	if parts[1] != protocolVersion {
		return NewModuleHandshakeError(
			fmt.Sprintf("unsupported protocol version %q", parts[1]), nil)
	}

	var payload handshakePayload
	if err := json.Unmarshal([]byte(parts[2]), &payload); err != nil {
		return NewModuleHandshakeError("invalid handshake payload", err)
	}
	if payload.Info.Name == "" {
		return NewModuleHandshakeError("handshake payload missing module name", nil)
	}
	p.info = payload.Info
	p.manifest = payload.Manifest
	p.healthAddr = payload.HealthAddr
	return nil
}

// request sends one protocol frame and waits for its response.
func (p *processModule) request(ctx context.Context, req moduleRequest) (moduleResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.exited:
		return moduleResponse{}, NewModuleProtocolError("module process has exited", nil)
	default:
	}

	if err := p.stdin.Encode(req); err != nil {
		return moduleResponse{}, NewModuleProtocolError("writing request failed", err)
	}

	respCh := make(chan moduleResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		if !p.stdout.Scan() {
			if err := p.stdout.Err(); err != nil {
				errCh <- NewModuleProtocolError("reading response failed", err)
				return
			}
			errCh <- NewModuleProtocolError("module process closed stdout", nil)
			return
		}
		var resp moduleResponse
		if err := json.Unmarshal(p.stdout.Bytes(), &resp); err != nil {
			errCh <- NewModuleProtocolError("invalid response frame", err)
			return
		}
		respCh <- resp
	}()

	select {
	case resp := <-respCh:
		if !resp.OK {
			return resp, NewModuleProtocolError(resp.Error, nil)
		}
		return resp, nil
	case err := <-errCh:
		return moduleResponse{}, err
	case <-time.After(requestTimeout):
		return moduleResponse{}, NewModuleProtocolError("request timed out", nil)
	case <-ctx.Done():
		return moduleResponse{}, ctx.Err()
	}
}

// Info implements Module using the handshake announcement.
func (p *processModule) Info() ModuleInfo { return p.info }

// Manifest implements Module using the handshake announcement.
func (p *processModule) Manifest() ModuleManifest { return p.manifest }

// Initialize implements Module. Host services cannot cross the process
// boundary, so a module process receives only its configuration map.
func (p *processModule) Initialize(ctx context.Context, core *CoreServices) error {
	var config map[string]any
	if core != nil && core.Metadata != nil {
		if meta, ok := core.Metadata.Get(p.info.Name); ok {
			config = meta.Configuration
		}
	}
	_, err := p.request(ctx, moduleRequest{Op: "initialize", Config: config})
	return err
}

// Activate implements Module.
func (p *processModule) Activate(ctx context.Context) error {
	_, err := p.request(ctx, moduleRequest{Op: "activate"})
	return err
}

// Deactivate implements Module.
func (p *processModule) Deactivate(ctx context.Context) error {
	_, err := p.request(ctx, moduleRequest{Op: "deactivate"})
	return err
}

// CaptureState implements Stateful over the protocol.
func (p *processModule) CaptureState() (map[string]any, error) {
	resp, err := p.request(context.Background(), moduleRequest{Op: "capture_state"})
	if err != nil {
		return nil, err
	}
	return resp.State, nil
}

// RestoreState implements Stateful over the protocol.
func (p *processModule) RestoreState(state map[string]any) error {
	_, err := p.request(context.Background(), moduleRequest{Op: "restore_state", State: state})
	return err
}

// shutdown asks the process to exit and escalates to Kill if it ignores
// the request.
func (p *processModule) shutdown(logger Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err := p.request(ctx, moduleRequest{Op: "shutdown"}); err != nil {
		logger.Debug("Shutdown request failed, killing module process", "error", err)
	}
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		logger.Warn("Module process did not exit, killing it")
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}
