package jsoncfg

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LoraEntry is one user-selected LoRA. DoubleBlocks and SingleBlocks carry
// optional per-block strength overrides as free-form strings.
type LoraEntry struct {
	Name          string  `json:"name" yaml:"name"`
	StrengthModel float64 `json:"strengthModel" yaml:"strengthModel"`
	StrengthClip  float64 `json:"strengthClip" yaml:"strengthClip"`
	DoubleBlocks  string  `json:"doubleBlocks,omitempty" yaml:"doubleBlocks,omitempty"`
	SingleBlocks  string  `json:"singleBlocks,omitempty" yaml:"singleBlocks,omitempty"`
}

type HiresFixConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	Scale         float64 `json:"scale" yaml:"scale"`
	Steps         int     `json:"steps" yaml:"steps"`
	Denoise       float64 `json:"denoise" yaml:"denoise"`
	UpscaleMethod string  `json:"upscaleMethod" yaml:"upscaleMethod"`
}

type Img2ImgConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Image   string  `json:"image,omitempty" yaml:"image,omitempty"`
	Denoise float64 `json:"denoise" yaml:"denoise"`
}

type FaceSwapConfig struct {
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Image    string  `json:"image,omitempty" yaml:"image,omitempty"`
	Fidelity float64 `json:"fidelity" yaml:"fidelity"`
}

// CharacterRefConfig holds up to MaxCharacterImages reference slots; empty
// slots are skipped when the payload is built.
type CharacterRefConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Images       []string `json:"images" yaml:"images"`
	Strength     float64  `json:"strength" yaml:"strength"`
	StartPercent float64  `json:"startPercent" yaml:"startPercent"`
	EndPercent   float64  `json:"endPercent" yaml:"endPercent"`
	Model        string   `json:"model" yaml:"model"`
	Noise        float64  `json:"noise" yaml:"noise"`
}

// HasImage reports whether at least one reference slot is filled.
func (c CharacterRefConfig) HasImage() bool {
	for _, img := range c.Images {
		if strings.TrimSpace(img) != "" {
			return true
		}
	}
	return false
}

type StyleRefConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Image        string  `json:"image,omitempty" yaml:"image,omitempty"`
	Strength     float64 `json:"strength" yaml:"strength"`
	StartPercent float64 `json:"startPercent" yaml:"startPercent"`
	EndPercent   float64 `json:"endPercent" yaml:"endPercent"`
	Model        string  `json:"model" yaml:"model"`
	Noise        float64 `json:"noise" yaml:"noise"`
}

type ControlNetConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Image        string  `json:"image,omitempty" yaml:"image,omitempty"`
	Preprocessor string  `json:"preprocessor" yaml:"preprocessor"`
	Model        string  `json:"model" yaml:"model"`
	Strength     float64 `json:"strength" yaml:"strength"`
	StartPercent float64 `json:"startPercent" yaml:"startPercent"`
	EndPercent   float64 `json:"endPercent" yaml:"endPercent"`
}

// GenerationConfig is the mutable working state a submission is built from.
type GenerationConfig struct {
	Prompt         string  `json:"prompt" yaml:"prompt"`
	NegativePrompt string  `json:"negativePrompt" yaml:"negativePrompt"`
	Model          string  `json:"model" yaml:"model"`
	Vae            string  `json:"vae" yaml:"vae"`
	ClipModel1     string  `json:"clipModel1" yaml:"clipModel1"`
	ClipModel2     string  `json:"clipModel2" yaml:"clipModel2"`
	ClipType       string  `json:"clipType" yaml:"clipType"`
	Width          int     `json:"width" yaml:"width"`
	Height         int     `json:"height" yaml:"height"`
	Steps          int     `json:"steps" yaml:"steps"`
	CFG            float64 `json:"cfg" yaml:"cfg"`
	Sampler        string  `json:"sampler" yaml:"sampler"`
	Scheduler      string  `json:"scheduler" yaml:"scheduler"`
	ClipSkip       int     `json:"clipSkip" yaml:"clipSkip"`
	BatchSize      int     `json:"batchSize" yaml:"batchSize"`
	BatchSeedMode  string  `json:"batchSeedMode" yaml:"batchSeedMode"`
	Performance    string  `json:"performance" yaml:"performance"`
	SeedInput      string  `json:"seedInput,omitempty" yaml:"seedInput,omitempty"`

	Loras    []LoraEntry    `json:"loras" yaml:"loras"`
	HiresFix HiresFixConfig `json:"hiresFix" yaml:"hiresFix"`

	Img2Img      Img2ImgConfig      `json:"img2img" yaml:"img2img"`
	FaceSwap     FaceSwapConfig     `json:"faceSwap" yaml:"faceSwap"`
	CharacterRef CharacterRefConfig `json:"characterRef" yaml:"characterRef"`
	StyleRef     StyleRefConfig     `json:"styleRef" yaml:"styleRef"`
	ControlNet   ControlNetConfig   `json:"controlNet" yaml:"controlNet"`
}

const (
	// NoneLora is the sentinel name of an unused LoRA slot.
	NoneLora = "None"

	SeedModeIncrement = "increment"
	SeedModeRandom    = "random"

	// StrengthMin and StrengthMax bound every LoRA strength scalar.
	StrengthMin = -2.0
	StrengthMax = 2.0
	// StrengthFallback replaces a strength that cannot be parsed.
	StrengthFallback = 1.0

	MaxSteps     = 150
	MaxCFG       = 100.0
	MinDimension = 64
	MaxDimension = 8192
	MaxBatchSize = 16
	MaxClipSkip  = 12

	MaxCharacterImages = 4
)

// DefaultLora returns the placeholder LoRA slot.
func DefaultLora() LoraEntry {
	return LoraEntry{Name: NoneLora, StrengthModel: 1.0, StrengthClip: 1.0}
}

// Default returns the initial working state.
func Default() GenerationConfig {
	return GenerationConfig{
		Vae:           "Automatic",
		ClipType:      "flux",
		Width:         1024,
		Height:        1024,
		Steps:         20,
		CFG:           3.5,
		Sampler:       "euler",
		Scheduler:     "simple",
		ClipSkip:      1,
		BatchSize:     1,
		BatchSeedMode: SeedModeIncrement,
		Performance:   "Speed",
		Loras:         []LoraEntry{DefaultLora()},
		HiresFix: HiresFixConfig{
			Scale:         2.0,
			Steps:         10,
			Denoise:       0.5,
			UpscaleMethod: "nearest-exact",
		},
		Img2Img:  Img2ImgConfig{Denoise: 0.75},
		FaceSwap: FaceSwapConfig{Fidelity: 0.8},
		CharacterRef: CharacterRefConfig{
			Images:     make([]string, MaxCharacterImages),
			Strength:   0.8,
			EndPercent: 0.9,
		},
		StyleRef: StyleRefConfig{
			Strength:   0.6,
			EndPercent: 1.0,
		},
		ControlNet: ControlNetConfig{
			Preprocessor: "canny",
			Strength:     1.0,
			EndPercent:   0.6,
		},
	}
}

// Clone returns a copy that shares no slices with c.
func (c GenerationConfig) Clone() GenerationConfig {
	out := c
	if c.Loras != nil {
		out.Loras = append([]LoraEntry(nil), c.Loras...)
	}
	if c.CharacterRef.Images != nil {
		out.CharacterRef.Images = append([]string(nil), c.CharacterRef.Images...)
	}
	return out
}

// Normalize fills empty fields with defaults and pulls numeric fields into
// the ranges the backend accepts.
func (c *GenerationConfig) Normalize() {
	if c == nil {
		return
	}
	def := Default()
	c.Prompt = strings.TrimSpace(c.Prompt)
	c.Model = strings.TrimSpace(c.Model)
	if c.Vae == "" {
		c.Vae = def.Vae
	}
	if c.ClipType == "" {
		c.ClipType = def.ClipType
	}
	if c.Sampler == "" {
		c.Sampler = def.Sampler
	}
	if c.Scheduler == "" {
		c.Scheduler = def.Scheduler
	}
	if c.Performance == "" {
		c.Performance = def.Performance
	}
	if c.BatchSeedMode == "" {
		c.BatchSeedMode = def.BatchSeedMode
	}
	if c.Width == 0 {
		c.Width = def.Width
	}
	if c.Height == 0 {
		c.Height = def.Height
	}
	if c.Steps == 0 {
		c.Steps = def.Steps
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	c.Width = clampInt(c.Width, MinDimension, MaxDimension)
	c.Height = clampInt(c.Height, MinDimension, MaxDimension)
	c.Steps = clampInt(c.Steps, 1, MaxSteps)
	c.CFG = ClampFloat(c.CFG, 0, MaxCFG, def.CFG)
	c.BatchSize = clampInt(c.BatchSize, 1, MaxBatchSize)
	c.ClipSkip = clampInt(c.ClipSkip, -MaxClipSkip, MaxClipSkip)
	if len(c.Loras) == 0 {
		c.Loras = []LoraEntry{DefaultLora()}
	}
	for i := range c.Loras {
		c.Loras[i].Name = strings.TrimSpace(c.Loras[i].Name)
		c.Loras[i].StrengthModel = ClampFloat(c.Loras[i].StrengthModel, StrengthMin, StrengthMax, StrengthFallback)
		c.Loras[i].StrengthClip = ClampFloat(c.Loras[i].StrengthClip, StrengthMin, StrengthMax, StrengthFallback)
	}
	if c.HiresFix.UpscaleMethod == "" {
		c.HiresFix.UpscaleMethod = def.HiresFix.UpscaleMethod
	}
	if len(c.CharacterRef.Images) > MaxCharacterImages {
		c.CharacterRef.Images = c.CharacterRef.Images[:MaxCharacterImages]
	}
}

// Validate reports whether the config can be submitted.
func (c GenerationConfig) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if c.BatchSeedMode != SeedModeIncrement && c.BatchSeedMode != SeedModeRandom {
		return fmt.Errorf("batchSeedMode must be %q or %q", SeedModeIncrement, SeedModeRandom)
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batchSize must be between 1 and %d", MaxBatchSize)
	}
	if c.SeedInput != "" {
		if _, err := strconv.ParseInt(strings.TrimSpace(c.SeedInput), 10, 64); err != nil {
			return fmt.Errorf("seedInput must be an integer")
		}
	}
	return nil
}

// SetLoraStrength applies an edit to one strength scalar. The raw input is
// clamped immediately so an out-of-range edit never reaches the payload.
func (c *GenerationConfig) SetLoraStrength(index int, field, raw string) error {
	if index < 0 || index >= len(c.Loras) {
		return fmt.Errorf("lora index %d out of range", index)
	}
	v := ClampFloat(raw, StrengthMin, StrengthMax, StrengthFallback)
	switch field {
	case "strengthModel":
		c.Loras[index].StrengthModel = v
	case "strengthClip":
		c.Loras[index].StrengthClip = v
	default:
		return fmt.Errorf("unknown lora field %q", field)
	}
	return nil
}

// AddLora appends an empty LoRA slot.
func (c *GenerationConfig) AddLora() {
	c.Loras = append(c.Loras, DefaultLora())
}

// UseLora puts name into the first placeholder slot, adding a slot when
// every one is taken. An empty strength keeps the slot default; both
// strength scalars are set from it otherwise.
func (c *GenerationConfig) UseLora(name, strength string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == NoneLora {
		return fmt.Errorf("lora name is required")
	}
	index := -1
	for i, l := range c.Loras {
		if l.Name == NoneLora || l.Name == "" {
			index = i
			break
		}
	}
	if index < 0 {
		c.AddLora()
		index = len(c.Loras) - 1
	}
	c.Loras[index].Name = name
	if strength == "" {
		return nil
	}
	if err := c.SetLoraStrength(index, "strengthModel", strength); err != nil {
		return err
	}
	return c.SetLoraStrength(index, "strengthClip", strength)
}

// RemoveLora drops one slot, keeping at least the placeholder entry.
func (c *GenerationConfig) RemoveLora(index int) {
	if index < 0 || index >= len(c.Loras) {
		return
	}
	next := make([]LoraEntry, 0, len(c.Loras)-1)
	next = append(next, c.Loras[:index]...)
	next = append(next, c.Loras[index+1:]...)
	if len(next) == 0 {
		next = []LoraEntry{DefaultLora()}
	}
	c.Loras = next
}

// ClampFloat coerces v to a float and bounds it to [lo, hi]. Values that are
// not numeric, or NaN, yield fallback.
func ClampFloat(v any, lo, hi, fallback float64) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return fallback
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	default:
		return fallback
	}
	if math.IsNaN(f) {
		return fallback
	}
	return math.Max(lo, math.Min(hi, f))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
