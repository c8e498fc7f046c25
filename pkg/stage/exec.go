package stage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/conveyor/pkg/cancellation"
	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/types"
)

// maxStderr bounds the stderr kept for CommandFailureError
const maxStderr = 4096

// runCommand runs one shell command, polling for completion. A command still
// running when the timeout elapses, or finishing exactly at it, is treated as
// timed out.
func (r *Runner) runCommand(command, dir string, env []string, timeout time.Duration, token *cancellation.Token) error {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)

	stdout := newLineWriter(r.logs, types.LogLevelInfo)
	stderrLines := newLineWriter(r.logs, types.LogLevelWarn)
	stderr := &tailBuffer{limit: maxStderr}
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderrLines, stderr)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command %q: %w", command, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	finish := func() {
		stdout.Flush()
		stderrLines.Flush()
	}

	for {
		select {
		case err := <-done:
			finish()
			if timeout > 0 && time.Since(start) >= timeout {
				return &types.CommandTimeoutError{Command: command, Timeout: timeout}
			}
			return commandError(command, err, stderr.String())

		case <-token.Done():
			killProcessGroup(cmd)
			<-done
			finish()
			return types.ErrCancelled

		case <-ticker.C:
			if token.Tripped() {
				continue
			}
			if timeout > 0 && time.Since(start) >= timeout {
				killProcessGroup(cmd)
				<-done
				finish()
				r.logs.Log(types.LogLevelError, fmt.Sprintf("Command timed out after %s", timeout))
				return &types.CommandTimeoutError{Command: command, Timeout: timeout}
			}
		}
	}
}

func commandError(command string, err error, stderr string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &types.CommandFailureError{
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr,
		}
	}
	return fmt.Errorf("command %q failed: %w", command, err)
}

// buildEnv layers the stage environment over the inherited one and points
// PATH and PWD at the stage directory. Later entries win in exec.Cmd.
func buildEnv(stageEnv map[string]string, binDir, stageDir string) []string {
	env := os.Environ()

	keys := make([]string, 0, len(stageEnv))
	for k := range stageEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, stageEnv[k]))
	}

	path := binDir
	if existing := os.Getenv("PATH"); existing != "" {
		path += string(os.PathListSeparator) + existing
	}
	return append(env, "PATH="+path, "PWD="+stageDir)
}

// lineWriter forwards complete lines to a log sink
type lineWriter struct {
	mu    sync.Mutex
	sink  interfaces.LogSink
	level types.LogLevel
	buf   bytes.Buffer
}

func newLineWriter(sink interfaces.LogSink, level types.LogLevel) *lineWriter {
	return &lineWriter{sink: sink, level: level}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.sink.Log(w.level, strings.TrimRight(line, "\r\n"))
	}
}

// Flush emits any trailing partial line
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.sink.Log(w.level, w.buf.String())
		w.buf.Reset()
	}
}

// tailBuffer keeps the last limit bytes written
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if over := len(t.data) - t.limit; over > 0 {
		t.data = t.data[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.data)
}
