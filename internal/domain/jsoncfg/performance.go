package jsoncfg

import "fmt"

// PerformancePreset pins the sampling parameters of a named speed/quality
// tradeoff. AutoLoras are injected ahead of the user's LoRAs and are never
// shown in the editable list.
type PerformancePreset struct {
	Steps     int
	CFG       float64
	Sampler   string
	Scheduler string
	AutoLoras []LoraEntry
}

var performancePresets = map[string]PerformancePreset{
	"Lightning": {Steps: 4, CFG: 1.0, Sampler: "euler", Scheduler: "simple"},
	"Speed":     {Steps: 20, CFG: 3.5, Sampler: "euler", Scheduler: "simple"},
	"Quality":   {Steps: 40, CFG: 7.0, Sampler: "euler", Scheduler: "normal"},
	"Flux Lightning": {
		Steps: 4, CFG: 1.0, Sampler: "euler", Scheduler: "simple",
		AutoLoras: []LoraEntry{{Name: "flux1-turbo-alpha.safetensors", StrengthModel: 1.0, StrengthClip: 1.0}},
	},
	"Flux Speed": {
		Steps: 8, CFG: 1.0, Sampler: "euler", Scheduler: "simple",
		AutoLoras: []LoraEntry{{Name: "Hyper-FLUX.1-dev-8steps-lora.safetensors", StrengthModel: 0.125, StrengthClip: 0.125}},
	},
}

// PerformanceNames lists the known presets in display order.
func PerformanceNames() []string {
	return []string{"Lightning", "Speed", "Quality", "Flux Lightning", "Flux Speed"}
}

// LookupPerformance returns the preset registered under name.
func LookupPerformance(name string) (PerformancePreset, bool) {
	p, ok := performancePresets[name]
	return p, ok
}

// ApplyPerformance switches the config to the named preset and copies its
// sampling parameters.
func (c *GenerationConfig) ApplyPerformance(name string) error {
	p, ok := performancePresets[name]
	if !ok {
		return fmt.Errorf("unknown performance preset %q", name)
	}
	c.Performance = name
	c.Steps = p.Steps
	c.CFG = p.CFG
	c.Sampler = p.Sampler
	c.Scheduler = p.Scheduler
	return nil
}

// AutoLoras returns the LoRAs the active performance preset injects. Unknown
// or custom performance names inject nothing.
func (c GenerationConfig) AutoLoras() []LoraEntry {
	p, ok := performancePresets[c.Performance]
	if !ok || len(p.AutoLoras) == 0 {
		return nil
	}
	return append([]LoraEntry(nil), p.AutoLoras...)
}
