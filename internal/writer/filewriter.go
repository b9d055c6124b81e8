// Package writer exposes sinks for flash image dumps.
package writer

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sink receives a complete flash image.
type Sink interface {
	WriteImage(img []byte) error
}

// DefaultPerm is the mode of written images when FileWriter.Perm is zero.
const DefaultPerm os.FileMode = 0o644

// FileWriter writes image bytes to a filesystem path atomically.
type FileWriter struct {
	Path string
	Perm os.FileMode
}

// WriteImage writes img to the configured path atomically via temp file + rename.
func (w *FileWriter) WriteImage(img []byte) error {
	// Temp file in the same directory so the rename stays on one filesystem.
	dir := filepath.Dir(w.Path)
	tmpFile, err := os.CreateTemp(dir, ".flashdm-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, writeErr := tmpFile.Write(img); writeErr != nil {
		return fmt.Errorf("write temp file: %w", writeErr)
	}
	perm := w.Perm
	if perm == 0 {
		perm = DefaultPerm
	}
	if chmodErr := tmpFile.Chmod(perm); chmodErr != nil {
		return fmt.Errorf("chmod temp file: %w", chmodErr)
	}
	if syncErr := tmpFile.Sync(); syncErr != nil {
		return fmt.Errorf("sync temp file: %w", syncErr)
	}
	if closeErr := tmpFile.Close(); closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	tmpFile = nil

	if renameErr := os.Rename(tmpPath, w.Path); renameErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", renameErr)
	}
	return nil
}
