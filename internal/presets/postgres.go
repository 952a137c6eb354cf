package presets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"matrice/internal/infra"
	"matrice/internal/sqlinline"
)

// PostgresStore shares presets through the generation_presets table.
type PostgresStore struct {
	sql infra.SQLExecutor
}

// NewPostgresStore wraps an executor, normally an *infra.SQLRunner.
func NewPostgresStore(sql infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

// EnsureSchema creates the preset table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QCreatePresetsTable); err != nil {
		return fmt.Errorf("presets: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, p Preset) (Preset, error) {
	name, err := NormalizeName(p.Name)
	if err != nil {
		return Preset{}, err
	}
	raw, err := json.Marshal(p.Config)
	if err != nil {
		return Preset{}, fmt.Errorf("presets: encode: %w", err)
	}
	var updated time.Time
	if err := s.sql.QueryRow(ctx, sqlinline.QUpsertPreset, name, raw).Scan(&updated); err != nil {
		return Preset{}, fmt.Errorf("presets: upsert: %w", err)
	}
	p.Name = name
	p.UpdatedAt = updated.UTC()
	return p, nil
}

func (s *PostgresStore) Load(ctx context.Context, name string) (Preset, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return Preset{}, err
	}
	var (
		p   Preset
		raw []byte
	)
	err = s.sql.QueryRow(ctx, sqlinline.QSelectPreset, name).Scan(&p.Name, &raw, &p.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return Preset{}, ErrPresetNotFound
		}
		return Preset{}, fmt.Errorf("presets: select: %w", err)
	}
	if err := json.Unmarshal(raw, &p.Config); err != nil {
		return Preset{}, fmt.Errorf("presets: decode %s: %w", name, err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Preset, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListPresets)
	if err != nil {
		return nil, fmt.Errorf("presets: list: %w", err)
	}
	defer rows.Close()

	out := []Preset{}
	for rows.Next() {
		var (
			p   Preset
			raw []byte
		)
		if err := rows.Scan(&p.Name, &raw, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("presets: scan: %w", err)
		}
		if err := json.Unmarshal(raw, &p.Config); err != nil {
			return nil, fmt.Errorf("presets: decode %s: %w", p.Name, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("presets: list: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QDeletePreset, name)
	if err != nil {
		return fmt.Errorf("presets: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPresetNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
