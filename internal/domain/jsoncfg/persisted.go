package jsoncfg

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PersistedConfig is the allow-listed subset of GenerationConfig that may be
// written to disk or a database. It has no seed field and no image-bearing
// conditioning blocks.
type PersistedConfig struct {
	Prompt         string         `json:"prompt" yaml:"prompt"`
	NegativePrompt string         `json:"negativePrompt" yaml:"negativePrompt"`
	Model          string         `json:"model" yaml:"model"`
	Vae            string         `json:"vae" yaml:"vae"`
	ClipModel1     string         `json:"clipModel1" yaml:"clipModel1"`
	ClipModel2     string         `json:"clipModel2" yaml:"clipModel2"`
	ClipType       string         `json:"clipType" yaml:"clipType"`
	Width          int            `json:"width" yaml:"width"`
	Height         int            `json:"height" yaml:"height"`
	Steps          int            `json:"steps" yaml:"steps"`
	CFG            float64        `json:"cfg" yaml:"cfg"`
	Sampler        string         `json:"sampler" yaml:"sampler"`
	Scheduler      string         `json:"scheduler" yaml:"scheduler"`
	ClipSkip       int            `json:"clipSkip" yaml:"clipSkip"`
	BatchSize      int            `json:"batchSize" yaml:"batchSize"`
	BatchSeedMode  string         `json:"batchSeedMode" yaml:"batchSeedMode"`
	Performance    string         `json:"performance" yaml:"performance"`
	HiresFix       HiresFixConfig `json:"hiresFix" yaml:"hiresFix"`
	Loras          []LoraEntry    `json:"loras" yaml:"loras"`
}

// Persisted projects c onto the allow-list.
func (c GenerationConfig) Persisted() PersistedConfig {
	return PersistedConfig{
		Prompt:         c.Prompt,
		NegativePrompt: c.NegativePrompt,
		Model:          c.Model,
		Vae:            c.Vae,
		ClipModel1:     c.ClipModel1,
		ClipModel2:     c.ClipModel2,
		ClipType:       c.ClipType,
		Width:          c.Width,
		Height:         c.Height,
		Steps:          c.Steps,
		CFG:            c.CFG,
		Sampler:        c.Sampler,
		Scheduler:      c.Scheduler,
		ClipSkip:       c.ClipSkip,
		BatchSize:      c.BatchSize,
		BatchSeedMode:  c.BatchSeedMode,
		Performance:    c.Performance,
		HiresFix:       c.HiresFix,
		Loras:          append([]LoraEntry(nil), c.Loras...),
	}
}

// FromPersisted rebuilds a working config over the defaults. The seed input
// always starts empty, which means a random seed per submission.
func FromPersisted(p PersistedConfig) GenerationConfig {
	c := Default()
	c.Prompt = p.Prompt
	c.NegativePrompt = p.NegativePrompt
	c.Model = p.Model
	c.Vae = p.Vae
	c.ClipModel1 = p.ClipModel1
	c.ClipModel2 = p.ClipModel2
	c.ClipType = p.ClipType
	c.Width = p.Width
	c.Height = p.Height
	c.Steps = p.Steps
	c.CFG = p.CFG
	c.Sampler = p.Sampler
	c.Scheduler = p.Scheduler
	c.ClipSkip = p.ClipSkip
	c.BatchSize = p.BatchSize
	c.BatchSeedMode = p.BatchSeedMode
	c.Performance = p.Performance
	c.HiresFix = p.HiresFix
	if len(p.Loras) > 0 {
		c.Loras = make([]LoraEntry, 0, len(p.Loras))
		for _, l := range p.Loras {
			entry := DefaultLora()
			entry.Name = l.Name
			entry.StrengthModel = l.StrengthModel
			entry.StrengthClip = l.StrengthClip
			entry.DoubleBlocks = l.DoubleBlocks
			entry.SingleBlocks = l.SingleBlocks
			c.Loras = append(c.Loras, entry)
		}
	}
	c.Normalize()
	return c
}

// Load decodes a YAML or JSON document over the defaults. Keys absent from
// the document keep their default value.
func Load(r io.Reader) (GenerationConfig, error) {
	return LoadOver(Default(), r)
}

// LoadOver decodes a YAML or JSON document over base. Keys absent from the
// document keep the value base carries; base itself is not modified.
func LoadOver(base GenerationConfig, r io.Reader) (GenerationConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return GenerationConfig{}, fmt.Errorf("read generation config: %w", err)
	}
	cfg := base.Clone()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return GenerationConfig{}, fmt.Errorf("decode generation config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadFile is Load for a path on disk.
func LoadFile(path string) (GenerationConfig, error) {
	return LoadFileOver(Default(), path)
}

// LoadFileOver is LoadOver for a path on disk.
func LoadFileOver(base GenerationConfig, path string) (GenerationConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return GenerationConfig{}, fmt.Errorf("open generation config: %w", err)
	}
	defer f.Close()
	return LoadOver(base, f)
}
