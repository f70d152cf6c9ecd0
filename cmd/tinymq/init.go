package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tinymq/tinymq-go/internal/defaults"
)

// runInit initializes a tinymq working directory: the directory itself
// and an example config. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing tinymq workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "tinymq.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  wrote %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit tinymq.yaml, then run: tinymq identity generate")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never clobbers operator customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, 0o644)
}
