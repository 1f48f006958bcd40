package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fclairamb/agentstate/internal/apperrors"
)

// Exists reports whether a file exists at path.
func (e *Engine) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SafeWrite stores value as indented JSON at path. The document is written to
// a temporary sibling file and then renamed over path, so readers see either
// the previous content or the new content and never a partial file.
func (e *Engine) SafeWrite(ctx context.Context, path string, value any) error {
	e.logger.DebugContext(ctx, "writing document", "path", path)

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return apperrors.Storage(apperrors.ReasonNone, path, "marshal document", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		e.logger.DebugContext(ctx, "create parent dir failed", "path", path, "error", err)
		return apperrors.Storage(reasonFor(err), path, "create parent dir", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		e.logger.DebugContext(ctx, "create temp file failed", "path", path, "error", err)
		return apperrors.Storage(reasonFor(err), path, "create temp file", err)
	}
	tmpPath := tmp.Name()

	fail := func(message string, cause error) error {
		_ = tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			e.logger.WarnContext(ctx, "failed to remove temp file", "path", tmpPath, "error", rmErr)
		}
		e.logger.DebugContext(ctx, "write document failed", "path", path, "step", message, "error", cause)
		return apperrors.Storage(reasonFor(cause), path, message, cause)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close temp file", err)
	}
	if err := e.replace(tmpPath, path); err != nil {
		return fail("rename temp file", err)
	}

	e.logger.DebugContext(ctx, "write document complete", "path", path, "size", len(data))
	return nil
}

// SafeRead decodes the JSON document at path into out. It returns false and
// no error when the file does not exist. An empty or unparsable file yields a
// storage error with reason corrupted.
func (e *Engine) SafeRead(ctx context.Context, path string, out any) (bool, error) {
	data, found, err := e.readRaw(ctx, path)
	if err != nil || !found {
		return false, err
	}
	if err := decode(path, data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the file at path. A missing file is not an error.
func (e *Engine) Delete(ctx context.Context, path string) error {
	e.logger.DebugContext(ctx, "deleting document", "path", path)

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.DebugContext(ctx, "delete document failed", "path", path, "error", err)
		return apperrors.Storage(reasonFor(err), path, "delete document", err)
	}

	e.logger.DebugContext(ctx, "delete document complete", "path", path)
	return nil
}

func (e *Engine) readRaw(ctx context.Context, path string) ([]byte, bool, error) {
	e.logger.DebugContext(ctx, "reading document", "path", path)

	data, err := os.ReadFile(path) //nolint:gosec // path is application controlled
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.DebugContext(ctx, "document does not exist", "path", path)
			return nil, false, nil
		}
		e.logger.DebugContext(ctx, "read document failed", "path", path, "error", err)
		return nil, false, apperrors.Storage(reasonFor(err), path, "read document", err)
	}

	e.logger.DebugContext(ctx, "read document complete", "path", path, "size", len(data))
	return data, true, nil
}

func decode(path string, data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return apperrors.Storage(apperrors.ReasonCorrupted, path, "empty file", nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Storage(apperrors.ReasonCorrupted, path, "parse document", err)
	}
	return nil
}

func reasonFor(err error) apperrors.Reason {
	if errors.Is(err, fs.ErrPermission) {
		return apperrors.ReasonPermission
	}
	return apperrors.ReasonNone
}
