package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fclairamb/agentstate/internal/apperrors"
)

// backupTimeFormat is ISO 8601 with millisecond precision in UTC.
const backupTimeFormat = "2006-01-02T15:04:05.000Z"

// RecoveryFunc is called after a corrupted document has been backed up.
type RecoveryFunc func(path string, err error)

// LoadWithRecovery reads the document at path. A missing document yields def.
// A corrupted document is copied to a timestamped backup next to it, reported
// to onRecovery (if non-nil), and def is returned without error. Every other
// error is returned unchanged.
func LoadWithRecovery[T any](
	ctx context.Context, e *Engine, path string, def T, onRecovery RecoveryFunc,
) (T, error) {
	data, found, err := e.readRaw(ctx, path)
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return def, nil
	}

	var value T
	decodeErr := decode(path, data, &value)
	if decodeErr == nil {
		return value, nil
	}
	if !errors.Is(decodeErr, apperrors.ErrCorrupted) {
		var zero T
		return zero, decodeErr
	}

	backup, wrErr := e.writeBackup(path, data)
	if wrErr != nil {
		e.logger.WarnContext(ctx, "failed to back up corrupted document", "path", path, "error", wrErr)
	} else {
		e.logger.WarnContext(ctx, "corrupted document backed up, using default", "path", path, "backup", backup, "error", decodeErr)
	}

	if onRecovery != nil {
		onRecovery(path, decodeErr)
	}

	return def, nil
}

// maxBackupCollisions bounds the numbered names tried when backups share a timestamp.
const maxBackupCollisions = 100

// writeBackup copies data to a new backup file and returns its name. Existing
// backups are never overwritten: a name already taken gets a numeric suffix.
func (e *Engine) writeBackup(path string, data []byte) (string, error) {
	base := e.backupPath(path)

	for n := 0; n <= maxBackupCollisions; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s-%d", base, n)
		}

		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm) //nolint:gosec // derived from document path
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return name, nil
	}

	return "", fmt.Errorf("backup %s: %d names already taken", base, maxBackupCollisions+1)
}

// backupPath returns <path>.corrupted-<timestamp> with ':' and '.' in the
// timestamp replaced so the name is safe on every filesystem.
func (e *Engine) backupPath(path string) string {
	stamp := e.now().UTC().Format(backupTimeFormat)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return path + backupSuffix + stamp
}
