package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const defaultProcessTimeout = 2 * time.Minute

// ProcessProvider runs an external extraction command with the file paths as
// arguments and reads the JSON artifact the command leaves behind.
type ProcessProvider struct {
	command    string
	outputFile string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewProcessProvider creates a ProcessProvider. If timeout <= 0 it defaults
// to two minutes.
func NewProcessProvider(command, outputFile string, timeout time.Duration) *ProcessProvider {
	if timeout <= 0 {
		timeout = defaultProcessTimeout
	}
	return &ProcessProvider{
		command:    command,
		outputFile: outputFile,
		timeout:    timeout,
		logger:     slog.Default(),
	}
}

func (p *ProcessProvider) Extract(ctx context.Context, paths []string) (Result, error) {
	if p.command == "" {
		return nil, fmt.Errorf("%w: no extraction command configured", ErrProviderFailed)
	}

	// A stale artifact from an earlier run must not be mistaken for this one.
	if err := os.Remove(p.outputFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: removing stale output: %v", ErrProviderFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command, paths...)
	cmd.Env = append(os.Environ(), "EXTRACTION_OUTPUT="+p.outputFile)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.Debug("running extraction command", "command", p.command, "files", len(paths))
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: timed out after %s", ErrProviderFailed, p.timeout)
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrProviderFailed, err, strings.TrimSpace(stderr.String()))
	}
	if strings.Contains(stderr.String(), "Error") {
		return nil, fmt.Errorf("%w: %s", ErrProviderFailed, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(p.outputFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading output artifact: %v", ErrProviderFailed, err)
	}

	var raw map[string]FileResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing output artifact: %v", ErrProviderFailed, err)
	}

	// The tool may key entries by full path or by base name.
	res := make(Result, len(raw))
	for key, fr := range raw {
		res[filepath.Base(key)] = fr
	}
	res.Normalize()
	return res, nil
}
