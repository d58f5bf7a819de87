package render

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FailureKind classifies why a render attempt failed.
type FailureKind string

const (
	// KindTimeout means the engine exceeded its wall-clock deadline and was
	// killed.
	KindTimeout FailureKind = "Timeout"
	// KindProcessError means the engine exited non-zero (or could not be
	// started at all).
	KindProcessError FailureKind = "ProcessError"
	// KindOutputMissing means the engine reported success but produced no
	// asset. Treated as an engine defect, not a user error.
	KindOutputMissing FailureKind = "OutputMissing"
)

// Failure is the structured error for a failed render attempt.
type Failure struct {
	Kind   FailureKind
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("render %s: %s", f.Kind, f.Detail)
}

// AsFailure unwraps err into a *Failure if it is one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Request describes one render run. ConfigData is the configuration payload
// already validated upstream; OnProgress, if set, receives 0-100 values
// parsed from the engine's stdout.
type Request struct {
	TemplatePath string
	ConfigData   []byte
	OutputPath   string
	OnProgress   func(int)
}

// Invoker runs one external rendering pass per call. Implementations hold no
// per-job state; the caller bounds how many runs happen at once.
type Invoker interface {
	Render(ctx context.Context, req Request) error
}

// EngineInvoker drives headless Blender: the binary loads the template in
// background mode, the Python driver script applies the configuration and
// exports a GLB to the output path.
//
// Driver script contract: invoked as
//
//	blender --background <template> --python <script> -- <config.json> <out.glb>
//
// It must exit 0 with the asset written on success, and may emit
// "PROGRESS <n>" lines on stdout.
type EngineInvoker struct {
	bin     string
	script  string
	timeout time.Duration
}

func NewEngineInvoker(bin, script string, timeout time.Duration) *EngineInvoker {
	return &EngineInvoker{bin: bin, script: script, timeout: timeout}
}

var _ Invoker = (*EngineInvoker)(nil)

func (e *EngineInvoker) Render(ctx context.Context, req Request) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	configPath, err := writeConfigFile(req.ConfigData)
	if err != nil {
		return &Failure{Kind: KindProcessError, Detail: fmt.Sprintf("write config file: %v", err)}
	}
	defer os.Remove(configPath)

	cmd := exec.CommandContext(ctx, e.bin,
		"--background", req.TemplatePath,
		"--python", e.script,
		"--", configPath, req.OutputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// A killed engine can leave child processes holding the stdout pipe;
	// WaitDelay force-closes it so the progress scan cannot hang past the
	// deadline.
	cmd.WaitDelay = 3 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Failure{Kind: KindProcessError, Detail: fmt.Sprintf("stdout pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return &Failure{Kind: KindProcessError, Detail: fmt.Sprintf("start engine: %v", err)}
	}

	scanProgress(stdout, req.OnProgress)

	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return &Failure{
			Kind:   KindTimeout,
			Detail: fmt.Sprintf("engine exceeded %s deadline", e.timeout),
		}
	}
	if waitErr != nil {
		return &Failure{
			Kind:   KindProcessError,
			Detail: fmt.Sprintf("engine failed: %v: %s", waitErr, tail(stderr.String(), 2048)),
		}
	}

	info, statErr := os.Stat(req.OutputPath)
	if statErr != nil || info.Size() == 0 {
		return &Failure{
			Kind:   KindOutputMissing,
			Detail: fmt.Sprintf("engine exited 0 but no asset at %s", req.OutputPath),
		}
	}
	return nil
}

func writeConfigFile(data []byte) (string, error) {
	f, err := os.CreateTemp("", "render-config-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// scanProgress reads "PROGRESS <n>" lines until stdout closes. Runs on the
// caller's goroutine so Wait is never called with the pipe still open.
func scanProgress(r io.Reader, onProgress func(int)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, "PROGRESS ")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n < 0 || n > 100 {
			continue
		}
		if onProgress != nil {
			onProgress(n)
		}
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
