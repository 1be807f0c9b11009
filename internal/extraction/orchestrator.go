package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// FallbackWarning accompanies results produced by the degraded path.
const FallbackWarning = "Used fallback extraction method - limited file type support"

// unsupportedDiagnostic is the text stored for files the degraded path cannot read.
const unsupportedDiagnostic = "Text extraction failed. File type requires Python libraries that couldn't be accessed."

var (
	// ErrEmptyBatch is returned when Extract is called without any files.
	ErrEmptyBatch = errors.New("no files uploaded")
	// ErrInvalidName is returned for an upload whose name has no base
	// component, or whose base name repeats within the batch.
	ErrInvalidName = errors.New("invalid file name")
)

// Upload is one file received from a client.
type Upload struct {
	Name string
	Data []byte
}

// Outcome is the result of one extraction request.
type Outcome struct {
	Results  Result
	Degraded bool
	Warning  string
}

// Snapshotter receives every successful extraction result.
type Snapshotter interface {
	Save(Result) error
}

// Orchestrator persists uploads, runs the provider and falls back to direct
// reads when the provider cannot deliver a complete result.
type Orchestrator struct {
	provider  Provider
	snapshots Snapshotter
	uploadDir string
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. snapshots may be nil.
func NewOrchestrator(provider Provider, snapshots Snapshotter, uploadDir string) *Orchestrator {
	return &Orchestrator{
		provider:  provider,
		snapshots: snapshots,
		uploadDir: uploadDir,
		logger:    slog.Default(),
	}
}

// Extract returns exactly one entry per uploaded file.
func (o *Orchestrator) Extract(ctx context.Context, uploads []Upload) (Outcome, error) {
	names, err := ValidateUploads(uploads)
	if err != nil {
		return Outcome{}, err
	}

	paths, err := o.persist(ctx, uploads, names)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{}
	res, err := o.provider.Extract(ctx, paths)
	switch {
	case err != nil:
		o.logger.Warn("extraction provider failed, using fallback", "error", err)
		out = Outcome{Results: fallbackExtract(paths), Degraded: true, Warning: FallbackWarning}
	case !res.Covers(names):
		o.logger.Warn("extraction provider result incomplete, using fallback", "files", len(names), "entries", len(res))
		out = Outcome{Results: fallbackExtract(paths), Degraded: true, Warning: FallbackWarning}
	default:
		// Entries for files outside this batch are not reported back.
		trimmed := make(Result, len(names))
		for _, n := range names {
			trimmed[n] = res[n]
		}
		trimmed.Normalize()
		out.Results = trimmed
	}

	if o.snapshots != nil {
		if err := o.snapshots.Save(out.Results); err != nil {
			o.logger.Warn("saving extraction snapshot failed", "error", err)
		}
	}
	return out, nil
}

// ValidateUploads returns the base name of every upload in order. The batch
// must be non-empty and base names must be distinct, since results are keyed
// by name.
func ValidateUploads(uploads []Upload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, ErrEmptyBatch
	}
	names := make([]string, len(uploads))
	seen := make(map[string]bool, len(uploads))
	for i, u := range uploads {
		name := filepath.Base(filepath.Clean("/" + u.Name))
		if name == "/" || name == "." {
			return nil, fmt.Errorf("%w %q", ErrInvalidName, u.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w %q: uploaded more than once", ErrInvalidName, name)
		}
		seen[name] = true
		names[i] = name
	}
	return names, nil
}

// persist writes uploads into the upload directory under their validated
// names and returns their paths in upload order.
func (o *Orchestrator) persist(ctx context.Context, uploads []Upload, names []string) ([]string, error) {
	if err := os.MkdirAll(o.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(o.uploadDir, name)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, u := range uploads {
		path := paths[i]
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if err := os.WriteFile(path, u.Data, 0o644); err != nil {
				return fmt.Errorf("writing upload %s: %w", filepath.Base(path), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// fallbackExtract reads plain-text types directly and marks everything else
// as unsupported.
func fallbackExtract(paths []string) Result {
	res := make(Result, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		ft := FileType(name)
		if !IsPlainText(ft) {
			res[name] = FileResult{FileType: ft, ExtractedText: unsupportedDiagnostic}
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			res[name] = FileResult{FileType: ft, ExtractedText: fmt.Sprintf("Error reading file: %v", err)}
			continue
		}
		res[name] = FileResult{FileType: ft, ExtractedText: string(data)}
	}
	return res
}
