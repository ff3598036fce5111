package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docqa/internal/ingest"
)

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Intake == nil {
			writeJSON(w, http.StatusOK, []ingest.Document{})
			return
		}
		docs, err := ingest.ListDocuments(deps.Intake.DocumentsDir(), deps.Intake.Pattern())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := chi.URLParam(r, "*")
		if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid document name")
			return
		}
		if deps.Intake == nil {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}

		path := filepath.Join(deps.Intake.DocumentsDir(), filepath.FromSlash(rel))
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open document: %v", err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
	}
}

// handleUpload stages the uploaded files, ingests them, and moves them into
// the document store. A failed upload leaves nothing behind.
func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Intake == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "uploads are not enabled")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		for _, fh := range files {
			if err := checkUploadName(fh.Filename, deps.Intake.Pattern()); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}

		staging, err := deps.Intake.NewStaging()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		committed := false
		defer func() {
			if !committed {
				deps.Intake.Discard(staging)
			}
		}()

		for _, fh := range files {
			if err := saveUpload(fh, filepath.Join(staging, filepath.Base(fh.Filename))); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "saving %s: %v", fh.Filename, err)
				return
			}
		}

		res, err := deps.Intake.Commit(r.Context(), staging)
		if err != nil {
			writeIngestError(w, err)
			return
		}
		committed = true

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ingested",
			"files":  res.Files,
			"stats":  res.Stats,
		})
	}
}

func checkUploadName(name, pattern string) error {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || strings.HasPrefix(base, ".") {
		return fmt.Errorf("invalid file name %q", name)
	}
	if ok, _ := doublestar.Match(pattern, base); !ok {
		return fmt.Errorf("unsupported file %q: must match %s", base, pattern)
	}
	return nil
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
