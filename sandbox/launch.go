// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/pictor-project/pictor/registry"
)

// workerFd is the descriptor number the worker inherits the protocol
// socket on.
const workerFd = 3

// LaunchOptions holds per-launch options.
type LaunchOptions struct {
	// BaseDir, when non-empty, is exposed read-only inside a contained
	// worker. Populated only when the registry entry opts in.
	BaseDir string

	// Logger for launch operations. Defaults to slog.Default.
	Logger *slog.Logger
}

// Handle owns a launched worker: the broker end of the protocol socket
// and the process itself.
type Handle struct {
	// Conn is the broker end of the socketpair the worker speaks the
	// framed protocol on.
	Conn io.ReadWriteCloser

	cmd    *exec.Cmd
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

// Launch starts the worker under the resolved mechanism and returns a
// connected handle. A start failure is returned as an error; the
// mechanism is never downgraded.
func Launch(ctx context.Context, mechanism Mechanism, worker registry.Worker, opts LaunchOptions) (*Handle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The host spawner resolves the installed application's own copy of
	// the binary, which may differ from any file visible here.
	if mechanism != MechanismHostSpawn {
		if err := worker.VerifyBinary(); err != nil {
			return nil, fmt.Errorf("worker binary verification: %w", err)
		}
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	brokerEnd := os.NewFile(uintptr(fds[0]), "worker-socket-broker")
	workerEnd := os.NewFile(uintptr(fds[1]), "worker-socket-worker")

	workerArgs := []string{"--fd", fmt.Sprint(workerFd)}

	var argv []string
	switch mechanism {
	case MechanismContained:
		bwrap, err := BwrapPath()
		if err != nil {
			brokerEnd.Close()
			workerEnd.Close()
			return nil, err
		}
		builder := NewBwrapBuilder()
		bwrapArgs, err := builder.Build(&BwrapOptions{
			WorkerExec: worker.Exec,
			WorkerArgs: workerArgs,
			BaseDir:    opts.BaseDir,
		})
		if err != nil {
			brokerEnd.Close()
			workerEnd.Close()
			return nil, fmt.Errorf("building bwrap command: %w", err)
		}
		argv = append([]string{bwrap}, bwrapArgs...)

	case MechanismHostSpawn:
		argv, err = BuildHostSpawn(&HostSpawnOptions{
			WorkerExec: worker.Exec,
			WorkerArgs: workerArgs,
			ForwardFd:  workerFd,
		})
		if err != nil {
			brokerEnd.Close()
			workerEnd.Close()
			return nil, err
		}

	case MechanismDisabled:
		logger.Warn("running image worker without sandbox", "exec", worker.Exec)
		argv = append([]string{worker.Exec}, workerArgs...)

	default:
		brokerEnd.Close()
		workerEnd.Close()
		return nil, fmt.Errorf("cannot launch with mechanism %v", mechanism)
	}

	stderr := &tailBuffer{limit: 32 * 1024}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.ExtraFiles = []*os.File{workerEnd}
	cmd.Stderr = stderr

	// CRITICAL: explicitly set a minimal environment. If cmd.Env is nil,
	// Go inherits the parent's full environment; even with --clearenv
	// inside the sandbox, the outer process would carry the parent's env
	// in /proc/<pid>/environ where a contained worker could read it.
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	for _, key := range inheritedEnv {
		if value, ok := os.LookupEnv(key); ok {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}

	// Process group for clean shutdown of the whole sandbox tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logger.Debug("launching image worker",
		"mechanism", mechanism.String(),
		"exec", worker.Exec,
	)

	if err := cmd.Start(); err != nil {
		brokerEnd.Close()
		workerEnd.Close()
		return nil, fmt.Errorf("starting worker %s: %w", worker.Exec, err)
	}

	// The child holds its own copy; keeping ours open would mask the
	// worker's EOF.
	workerEnd.Close()

	return &Handle{
		Conn:   brokerEnd,
		cmd:    cmd,
		stderr: stderr,
	}, nil
}

// Kill forcibly terminates the worker's process group and closes the
// protocol socket. Safe to call more than once.
func (h *Handle) Kill() {
	h.Conn.Close()
	if h.cmd.Process != nil {
		unix.Kill(-h.cmd.Process.Pid, unix.SIGKILL)
	}
}

// Wait reaps the worker process. Safe to call more than once; every
// call returns the first result.
func (h *Handle) Wait() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
	})
	return h.waitErr
}

// Stderr returns the tail of the worker's captured stderr, used as
// context on decode and encode failures.
func (h *Handle) Stderr() string {
	return h.stderr.String()
}

// tailBuffer keeps the last limit bytes written to it. The worker's
// stderr is read after failures, possibly concurrently with the process
// still writing.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
