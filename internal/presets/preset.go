// Package presets stores named generation configurations. Only the
// allow-listed projection of a config is ever persisted: no seed, no image
// data and nothing in flight.
package presets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"matrice/internal/domain"
	"matrice/internal/domain/jsoncfg"
)

var (
	// ErrPresetNotFound matches domain.ErrNotFound under errors.Is.
	ErrPresetNotFound = fmt.Errorf("presets: %w", domain.ErrNotFound)
	ErrInvalidName    = errors.New("presets: invalid preset name")
)

var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Preset is one saved configuration.
type Preset struct {
	Name      string                  `json:"name"`
	Config    jsoncfg.PersistedConfig `json:"config"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// Store persists presets.
type Store interface {
	Save(ctx context.Context, p Preset) (Preset, error)
	Load(ctx context.Context, name string) (Preset, error)
	List(ctx context.Context) ([]Preset, error)
	Delete(ctx context.Context, name string) error
}

// NormalizeName trims name and checks it against the allowed alphabet.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !nameRegexp.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// FromConfig captures cfg under name.
func FromConfig(name string, cfg jsoncfg.GenerationConfig) Preset {
	return Preset{Name: name, Config: cfg.Persisted()}
}

// Apply rebuilds a working config from p.
func (p Preset) Apply() jsoncfg.GenerationConfig {
	return jsoncfg.FromPersisted(p.Config)
}
