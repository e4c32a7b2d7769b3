// Package configfile renders deployment parameters into the shell-sourced
// variables file consumed by the packer and terraform scripts.
package configfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	// DefaultRelativePath is resolved against the workspace directory.
	DefaultRelativePath = "../packer/script/config_vars.txt"

	configFileMode = 0o644
)

// Writer overwrites the config file in place. Writes from different sessions
// are serialized but not merged; the last one wins. The parent directory
// must already exist: it belongs to the provisioning checkout.
type Writer struct {
	path   string
	layout Layout
	log    *slog.Logger
	mu     sync.Mutex
}

var _ ports.ConfigWriter = (*Writer)(nil)

func NewWriter(path string, logger *slog.Logger) (*Writer, error) {
	if path == "" {
		return nil, errors.New("config file path is required")
	}
	layout, err := DefaultLayout()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{path: filepath.Clean(path), layout: layout, log: logger}, nil
}

// PathForWorkspace returns the default config file location for dir.
func PathForWorkspace(dir string) string {
	return filepath.Clean(filepath.Join(dir, DefaultRelativePath))
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Write(ctx context.Context, cfg domain.Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	content := w.layout.Render(cfg)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.WriteFile(w.path, []byte(content), configFileMode); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	w.log.Debug("config file written", "path", w.path, "keys", len(cfg), "bytes", len(content))
	return nil
}

// LoadValues reads a TOML document of top-level KEY = value pairs, as used
// by `deployctl config render`.
func LoadValues(path string) (domain.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read values file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode values file: %w", err)
	}
	for key, value := range raw {
		switch value.(type) {
		case string, bool, int64, float64:
		default:
			return nil, fmt.Errorf("values file key %s: unsupported value type %T", key, value)
		}
	}

	return domain.ConfigurationFromValues(raw), nil
}
