package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// failedDir collects watched uploads whose ingestion failed.
const failedDir = "failed"

// Intake runs the staged upload flow. New files are written into a private
// staging directory, ingested from there, and moved into the document store
// only after ingestion succeeds. Runs are serialized.
type Intake struct {
	processor    Processor
	uploadDir    string
	documentsDir string
	pattern      string
	onIngested   func(context.Context) error
	logger       *slog.Logger

	mu sync.Mutex
}

// Result reports a committed staging directory.
type Result struct {
	Stats Stats    `json:"stats"`
	Files []string `json:"files"`
}

// NewIntake creates an Intake. onIngested, if set, runs after every
// successful Commit or IngestDir; the lexical index rebuild hangs off it.
func NewIntake(p Processor, uploadDir, documentsDir, pattern string, onIngested func(context.Context) error) *Intake {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Intake{
		processor:    p,
		uploadDir:    uploadDir,
		documentsDir: documentsDir,
		pattern:      pattern,
		onIngested:   onIngested,
		logger:       slog.Default(),
	}
}

// UploadDir returns the directory new uploads arrive in.
func (in *Intake) UploadDir() string { return in.uploadDir }

// DocumentsDir returns the permanent document store.
func (in *Intake) DocumentsDir() string { return in.documentsDir }

// Pattern returns the document file pattern.
func (in *Intake) Pattern() string { return in.pattern }

// NewStaging creates an empty staging directory below the upload directory.
func (in *Intake) NewStaging() (string, error) {
	if err := os.MkdirAll(in.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	dir, err := os.MkdirTemp(in.uploadDir, ".staging-")
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return dir, nil
}

// Discard removes a staging directory and its contents.
func (in *Intake) Discard(staging string) error {
	return os.RemoveAll(staging)
}

// Commit ingests staging. On success its documents move into the document
// store and the staging directory is removed. On failure staging is left as
// it was for the caller to discard or retry.
func (in *Intake) Commit(ctx context.Context, staging string) (Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	files, err := PDFLoader{Pattern: in.pattern}.Files(staging)
	if err != nil {
		return Result{}, &Error{File: staging, Stage: StageLoad, Err: err}
	}

	stats, err := in.processor.ComputeAndStoreEmbeddings(ctx, staging)
	if err != nil {
		return Result{Stats: stats}, err
	}

	for _, rel := range files {
		src := filepath.Join(staging, filepath.FromSlash(rel))
		dst := filepath.Join(in.documentsDir, filepath.FromSlash(rel))
		if err := moveFile(src, dst); err != nil {
			return Result{Stats: stats}, fmt.Errorf("relocating %s: %w", rel, err)
		}
	}
	if err := os.RemoveAll(staging); err != nil {
		in.logger.Warn("removing staging directory", "dir", staging, "error", err)
	}

	in.afterIngest(ctx)
	return Result{Stats: stats, Files: files}, nil
}

// IngestDir ingests dir in place, serialized with uploads, then runs the
// post-ingest hook. Inside the document store, source ids are relative to
// the store so the documents can be served back. Other directories keep ids
// relative to dir.
func (in *Intake) IngestDir(ctx context.Context, dir string) (Stats, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	_, inStore := relativeTo(in.documentsDir, dir)
	rp, rooted := in.processor.(RootedProcessor)

	var stats Stats
	var err error
	if inStore && rooted {
		stats, err = rp.ComputeAndStoreEmbeddingsUnder(ctx, in.documentsDir, dir)
	} else {
		if !inStore {
			in.logger.Warn("ingesting outside the document store; these documents cannot be downloaded",
				"dir", dir, "documents_dir", in.documentsDir)
		}
		stats, err = in.processor.ComputeAndStoreEmbeddings(ctx, dir)
	}
	if err != nil {
		return stats, err
	}

	in.afterIngest(ctx)
	return stats, nil
}

func (in *Intake) afterIngest(ctx context.Context) {
	if in.onIngested == nil {
		return
	}
	if err := in.onIngested(ctx); err != nil {
		in.logger.Warn("post-ingest hook failed", "error", err)
	}
}

// IngestFiles moves paths into a fresh staging directory and commits it.
// Files whose ingestion fails are parked in the upload directory's failed/
// subdirectory.
func (in *Intake) IngestFiles(ctx context.Context, paths []string) (Result, error) {
	staging, err := in.NewStaging()
	if err != nil {
		return Result{}, err
	}
	for _, p := range paths {
		if err := moveFile(p, filepath.Join(staging, filepath.Base(p))); err != nil {
			in.Discard(staging)
			return Result{}, &Error{File: p, Stage: StageLoad, Err: err}
		}
	}

	res, err := in.Commit(ctx, staging)
	if err == nil {
		return res, nil
	}

	failed := filepath.Join(in.uploadDir, failedDir)
	entries, _ := os.ReadDir(staging)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if mvErr := moveFile(filepath.Join(staging, e.Name()), filepath.Join(failed, e.Name())); mvErr != nil {
			in.logger.Error("parking failed upload", "file", e.Name(), "error", mvErr)
		}
	}
	in.Discard(staging)
	return res, err
}

// moveFile renames src to dst, creating dst's directory. Renames across
// filesystems fall back to copy and delete.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || errors.Is(err, fs.ErrNotExist) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
