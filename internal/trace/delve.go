package trace

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
)

// listenPrefix is what headless dlv prints once its API server is up.
const listenPrefix = "API server listening at: "

// Delve traces a Go binary through a headless Delve session, recording
// the number of every source line the main package stops at. Calls
// into other packages are stepped out of rather than traced.
type Delve struct {
	// Path is the dlv executable. Default: "dlv".
	Path string

	// Entry is the function the trace starts from. Default: "main.main".
	Entry string

	// SourceFile, when set, restricts recorded stops to files with
	// this base name.
	SourceFile string

	// MaxSteps bounds the number of steps per test. Default: 100000.
	MaxSteps int

	// StartTimeout bounds the wait for dlv to start listening.
	// Default: 15s.
	StartTimeout time.Duration
}

// Trace implements Tracer.
func (d Delve) Trace(ctx context.Context, binary string, inputs []string) ([]string, error) {
	path := d.Path
	if path == "" {
		path = "dlv"
	}
	timeout := d.StartTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	args := []string{"exec", "--headless", "--api-version=2", "--listen=127.0.0.1:0", binary}
	if len(inputs) > 0 {
		args = append(args, "--")
		args = append(args, inputs...)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	listen := newListenWriter()
	cmd.Stdout = listen
	cmd.WaitDelay = timeout
	if err := cmd.Start(); err != nil {
		return nil, &ToolError{Tool: path, ExitCode: -1, Err: err}
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	fail := func(err error) ([]string, error) {
		_ = cmd.Process.Kill()
		<-exited
		return nil, &ToolError{Tool: path, ExitCode: cmd.ProcessState.ExitCode(), Output: stderr.String(), Err: err}
	}

	addr, err := waitListening(ctx, listen.found, exited, timeout)
	if err != nil {
		return fail(err)
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fail(fmt.Errorf("dialing dlv at %s: %w", addr, err))
	}
	client := rpc2.NewClientFromConn(conn)

	lines, err := d.step(client)
	_ = client.Detach(true)
	<-exited
	if err != nil {
		return nil, &ToolError{Tool: path, ExitCode: -1, Output: stderr.String(), Err: err}
	}
	return lines, nil
}

// listenWriter receives dlv's stdout. It reports the API listen
// address once and discards everything after it, which is the
// debuggee's own output.
type listenWriter struct {
	found   chan string
	partial []byte
	done    bool
}

func newListenWriter() *listenWriter {
	return &listenWriter{found: make(chan string, 1)}
}

func (w *listenWriter) Write(p []byte) (int, error) {
	if w.done {
		return len(p), nil
	}
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := strings.TrimSpace(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
		if strings.HasPrefix(line, listenPrefix) {
			w.found <- strings.TrimSpace(line[len(listenPrefix):])
			w.done = true
			w.partial = nil
			return len(p), nil
		}
	}
}

func waitListening(ctx context.Context, found <-chan string, exited <-chan struct{}, timeout time.Duration) (string, error) {
	select {
	case addr := <-found:
		return addr, nil
	case <-exited:
		return "", fmt.Errorf("dlv exited before listening")
	case <-time.After(timeout):
		return "", fmt.Errorf("timed out waiting for dlv to start")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// debugger is the subset of the rpc2 client the step loop needs.
type debugger interface {
	CreateBreakpoint(*api.Breakpoint) (*api.Breakpoint, error)
	Continue() <-chan *api.DebuggerState
	Step() (*api.DebuggerState, error)
	StepOut() (*api.DebuggerState, error)
}

func (d Delve) step(client debugger) ([]string, error) {
	entry := d.Entry
	if entry == "" {
		entry = "main.main"
	}
	maxSteps := d.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 100000
	}

	bp, err := client.CreateBreakpoint(&api.Breakpoint{FunctionName: entry})
	if err != nil {
		return nil, fmt.Errorf("setting breakpoint on %s: %w", entry, err)
	}

	state := <-client.Continue()
	if state == nil {
		return nil, fmt.Errorf("continue returned no state")
	}
	if state.Err != nil {
		return nil, state.Err
	}
	if state.Exited || state.CurrentThread == nil {
		return nil, nil
	}

	th := state.CurrentThread
	lines := []string{
		fmt.Sprintf("Breakpoint %d, %s () at %s:%d", bp.ID, entry, th.File, th.Line),
		strconv.Itoa(th.Line),
	}

	for i := 0; i < maxSteps; i++ {
		var next *api.DebuggerState
		if fn := th.Function; fn != nil && !strings.HasPrefix(fn.Name(), "main.") {
			next, err = client.StepOut()
		} else {
			next, err = client.Step()
		}
		if err != nil {
			if strings.Contains(err.Error(), "has exited") {
				break
			}
			return nil, err
		}
		if next == nil || next.Exited || next.CurrentThread == nil {
			break
		}
		th = next.CurrentThread
		if th.Function != nil && th.Function.Name() == "runtime.main" {
			break
		}
		if d.SourceFile != "" && filepath.Base(th.File) != d.SourceFile {
			continue
		}
		if th.Function != nil && !strings.HasPrefix(th.Function.Name(), "main.") {
			continue
		}
		lines = append(lines, strconv.Itoa(th.Line))
	}
	return lines, nil
}
