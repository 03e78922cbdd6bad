package agent

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quillchat/quill/internal/log"
)

// InstanceConfig carries per-instance spawn parameters.
type InstanceConfig struct {
	// WorkDir is the working directory handed to the agent process. It
	// holds the resolved resources (checked-out repositories) the session
	// operates on.
	WorkDir string

	// Env is appended to the process environment.
	Env []string
}

// Instance is one running, addressable agent server process. It is owned
// exclusively by the orchestration run that acquired it and must be released
// when that run ends.
type Instance struct {
	Port    int
	WorkDir string

	baseURL string
	httpc   *http.Client

	releaseOnce sync.Once
	release     func()
}

// NewInstance builds an instance from its parts. Providers outside this
// package (pools, test fakes) use it; release may be nil when the instance
// owns no process.
func NewInstance(port int, baseURL string, httpc *http.Client, release func()) *Instance {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Instance{
		Port:    port,
		baseURL: baseURL,
		httpc:   httpc,
		release: release,
	}
}

// BaseURL returns the instance's HTTP base URL.
func (i *Instance) BaseURL() string {
	return i.baseURL
}

// Release terminates the instance and frees its port. Safe to call more
// than once; only the first call takes effect.
func (i *Instance) Release() {
	i.releaseOnce.Do(func() {
		if i.release != nil {
			i.release()
		}
	})
}

// Provider creates agent instances. The production implementation spawns a
// local process; tests substitute fakes.
//
// CreateInstance must fail with an error matching ErrPortInUse when the
// port is occupied, and with any other error for non-conflict spawn
// failures. The distinction drives the acquirer's retry policy.
type Provider interface {
	CreateInstance(ctx context.Context, port int, cfg InstanceConfig) (*Instance, error)
}

const (
	// readyPollInterval is the delay between health probes while waiting
	// for a freshly spawned agent process to start listening.
	readyPollInterval = 50 * time.Millisecond

	// readyTimeout bounds how long a spawned process may take to become
	// addressable before the spawn is considered failed.
	readyTimeout = 10 * time.Second
)

// ExecProvider spawns agent server processes with os/exec.
type ExecProvider struct {
	// Bin is the agent binary, resolved via PATH when not absolute.
	Bin string

	// Args are prepended before the generated --port/--dir flags.
	Args []string

	Logger log.Logger
}

// CreateInstance spawns the agent binary listening on the given port and
// waits until its health endpoint answers.
//
// Port conflicts are detected two ways: a pre-spawn dial to the port (fast
// path, something is already listening) and an early process exit whose
// stderr reports the bind failure. Both return ErrPortInUse so the acquirer
// moves to the next offset. Any other failure is fatal.
func (p *ExecProvider) CreateInstance(ctx context.Context, port int, cfg InstanceConfig) (*Instance, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	// Fast path: an established listener means the port is taken.
	if conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrPortInUse, addr)
	}

	args := append(append([]string{}, p.Args...),
		"--port", strconv.Itoa(port),
		"--dir", cfg.WorkDir,
	)

	cmd := exec.Command(p.Bin, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = append(cmd.Environ(), cfg.Env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrSpawnFailed, p.Bin, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	baseURL := "http://" + addr
	httpc := &http.Client{Timeout: 30 * time.Second}

	deadline := time.NewTimer(readyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-exited
			return nil, fmt.Errorf("waiting for agent instance: %w", ctx.Err())

		case err := <-exited:
			// The process died before becoming ready. A bind failure is
			// a retryable conflict; anything else is fatal.
			if strings.Contains(stderr.String(), "address already in use") {
				return nil, fmt.Errorf("%w: %s", ErrPortInUse, addr)
			}
			return nil, fmt.Errorf("%w: process exited: %v: %s", ErrSpawnFailed, err, stderr.String())

		case <-deadline.C:
			_ = cmd.Process.Kill()
			<-exited
			return nil, fmt.Errorf("%w: instance on %s not ready after %s", ErrSpawnFailed, addr, readyTimeout)

		case <-tick.C:
			if p.healthy(ctx, httpc, baseURL) {
				inst := &Instance{
					Port:    port,
					WorkDir: cfg.WorkDir,
					baseURL: baseURL,
					httpc:   httpc,
					release: func() {
						_ = cmd.Process.Kill()
						<-exited
						if p.Logger != nil {
							p.Logger.Debug("agent instance released", "port", port)
						}
					},
				}
				if p.Logger != nil {
					p.Logger.Info("agent instance ready", "port", port, "dir", cfg.WorkDir)
				}
				return inst, nil
			}
		}
	}
}

// healthy probes the instance health endpoint once.
func (p *ExecProvider) healthy(ctx context.Context, httpc *http.Client, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
