package configfile

import (
	_ "embed"
	"fmt"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

const currentLayoutVersion = 1

//go:embed layout.toml
var defaultLayoutData []byte

// Layout describes the sections, comments and assignments of the config
// file in the order they are rendered.
type Layout struct {
	Version  int             `toml:"version"`
	Sections []layoutSection `toml:"sections"`
}

type layoutSection struct {
	Title  string        `toml:"title"`
	Groups []layoutGroup `toml:"groups"`
}

type layoutGroup struct {
	Comment string        `toml:"comment"`
	Entries []layoutEntry `toml:"entries"`
}

type layoutEntry struct {
	Key string `toml:"key"`
	// Source names the configuration key the value is read from when it
	// differs from Key.
	Source  string  `toml:"source"`
	Export  bool    `toml:"export"`
	Default *string `toml:"default"`
}

func (e layoutEntry) sourceKey() string {
	if e.Source != "" {
		return e.Source
	}
	return e.Key
}

var (
	defaultLayoutOnce sync.Once
	defaultLayout     Layout
	defaultLayoutErr  error
)

// DefaultLayout returns the layout expected by the packer scripts.
func DefaultLayout() (Layout, error) {
	defaultLayoutOnce.Do(func() {
		defaultLayout, defaultLayoutErr = ParseLayout(defaultLayoutData)
	})
	return defaultLayout, defaultLayoutErr
}

func ParseLayout(data []byte) (Layout, error) {
	var layout Layout
	if err := toml.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("decode config layout: %w", err)
	}
	if layout.Version == 0 {
		layout.Version = currentLayoutVersion
	}
	if layout.Version > currentLayoutVersion {
		return Layout{}, fmt.Errorf("unsupported config layout version %d (current %d)", layout.Version, currentLayoutVersion)
	}

	seen := make(map[string]struct{})
	for _, section := range layout.Sections {
		for _, group := range section.Groups {
			for _, entry := range group.Entries {
				if entry.Key == "" {
					return Layout{}, fmt.Errorf("config layout section %q has an entry without a key", section.Title)
				}
				if _, ok := seen[entry.Key]; ok {
					return Layout{}, fmt.Errorf("config layout assigns %s twice", entry.Key)
				}
				seen[entry.Key] = struct{}{}
			}
		}
	}

	return layout, nil
}

// Keys lists the configuration keys the layout reads, in render order and
// without duplicates.
func (l Layout) Keys() []string {
	var keys []string
	seen := make(map[string]struct{})
	for _, section := range l.Sections {
		for _, group := range section.Groups {
			for _, entry := range group.Entries {
				key := entry.sourceKey()
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}
	return keys
}
