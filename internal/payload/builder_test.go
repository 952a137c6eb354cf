package payload

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"matrice/internal/domain/jsoncfg"
)

func baseConfig() jsoncfg.GenerationConfig {
	cfg := jsoncfg.Default()
	cfg.Prompt = "a lighthouse at dusk"
	cfg.Model = "flux1-dev.safetensors"
	cfg.Loras = []jsoncfg.LoraEntry{
		{Name: "film-grain.safetensors", StrengthModel: 0.7, StrengthClip: 0.5, DoubleBlocks: "0,1"},
		jsoncfg.DefaultLora(),
	}
	cfg.HiresFix.Enabled = true
	cfg.CharacterRef.Enabled = true
	cfg.CharacterRef.Images = []string{"", "data:image/png;base64,QQ==", "", ""}
	return cfg
}

func TestBuildIsDeterministic(t *testing.T) {
	cfg := baseConfig()
	a := Build(cfg, 42)
	b := Build(cfg, 42)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Build returned different requests for identical input:\n%#v\n%#v", a, b)
	}
	ra, _ := json.Marshal(a)
	rb, _ := json.Marshal(b)
	if !bytes.Equal(ra, rb) {
		t.Fatalf("serialized payloads differ:\n%s\n%s", ra, rb)
	}
}

func TestBuildSharesNoMemoryWithConfig(t *testing.T) {
	cfg := baseConfig()
	req := Build(cfg, 1)
	cfg.CharacterRef.Images[1] = "changed"
	cfg.Loras[0].Name = "changed"
	if req.CharacterRef.Images[0] != "data:image/png;base64,QQ==" {
		t.Fatalf("request aliased the character images")
	}
	if req.Loras[0].Name != "film-grain.safetensors" {
		t.Fatalf("request aliased the lora list")
	}
}

func TestBuildSeedIsPassedThrough(t *testing.T) {
	req := Build(baseConfig(), 987654)
	if req.Seed != 987654 {
		t.Fatalf("Seed = %d, want 987654", req.Seed)
	}
	raw, _ := json.Marshal(req)
	if !bytes.Contains(raw, []byte(`"seed":987654`)) {
		t.Fatalf("payload does not carry the integer seed: %s", raw)
	}
}

func TestBuildExcludesNoneLora(t *testing.T) {
	strengths := []float64{-999, -2, 0, 1, 2, 999, math.NaN()}
	for _, s := range strengths {
		cfg := baseConfig()
		cfg.Loras = []jsoncfg.LoraEntry{
			{Name: jsoncfg.NoneLora, StrengthModel: s, StrengthClip: s},
			{Name: "", StrengthModel: s, StrengthClip: s},
		}
		req := Build(cfg, 7)
		if len(req.Loras) != 0 {
			t.Fatalf("strength %v: Loras = %#v, want none", s, req.Loras)
		}
	}
}

func TestBuildClampsStrengths(t *testing.T) {
	cfg := baseConfig()
	cfg.Loras = []jsoncfg.LoraEntry{
		{Name: "a", StrengthModel: -999, StrengthClip: 999},
		{Name: "b", StrengthModel: math.NaN(), StrengthClip: math.Inf(-1)},
		{Name: "c", StrengthModel: 1.5, StrengthClip: -0.25},
	}
	if err := cfg.SetLoraStrength(2, "strengthModel", "not-a-number"); err != nil {
		t.Fatalf("SetLoraStrength: %v", err)
	}
	req := Build(cfg, 7)
	want := []Lora{
		{Name: "a", StrengthModel: -2, StrengthClip: 2},
		{Name: "b", StrengthModel: 1, StrengthClip: -2},
		{Name: "c", StrengthModel: 1, StrengthClip: -0.25},
	}
	if !reflect.DeepEqual(req.Loras, want) {
		t.Fatalf("Loras = %#v, want %#v", req.Loras, want)
	}
	for _, l := range req.Loras {
		if l.StrengthModel < -2 || l.StrengthModel > 2 || l.StrengthClip < -2 || l.StrengthClip > 2 {
			t.Fatalf("strength out of range: %#v", l)
		}
	}
}

func TestBuildPutsAutoLorasFirst(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.ApplyPerformance("Flux Lightning"); err != nil {
		t.Fatalf("ApplyPerformance: %v", err)
	}
	cfg.Loras = append(cfg.Loras, jsoncfg.LoraEntry{Name: "flux1-turbo-alpha.safetensors", StrengthModel: 0.3, StrengthClip: 0.3})
	req := Build(cfg, 1)
	if len(req.Loras) != 2 {
		t.Fatalf("Loras = %#v, want auto + user", req.Loras)
	}
	if req.Loras[0].Name != "flux1-turbo-alpha.safetensors" || req.Loras[0].StrengthModel != 1 {
		t.Fatalf("first lora = %#v, want turbo auto lora", req.Loras[0])
	}
	if req.Loras[1].Name != "film-grain.safetensors" || req.Loras[1].DoubleBlocks != "0,1" {
		t.Fatalf("second lora = %#v", req.Loras[1])
	}
}

func TestBuildGatesConditioningBlocks(t *testing.T) {
	const image = "data:image/png;base64,QQ=="
	type setter func(cfg *jsoncfg.GenerationConfig, enabled bool, withImage bool)
	blocks := map[string]setter{
		"img2img": func(cfg *jsoncfg.GenerationConfig, enabled, withImage bool) {
			cfg.Img2Img.Enabled = enabled
			cfg.Img2Img.Image = pick(withImage, image)
		},
		"faceSwap": func(cfg *jsoncfg.GenerationConfig, enabled, withImage bool) {
			cfg.FaceSwap.Enabled = enabled
			cfg.FaceSwap.Image = pick(withImage, image)
		},
		"characterRef": func(cfg *jsoncfg.GenerationConfig, enabled, withImage bool) {
			cfg.CharacterRef.Enabled = enabled
			cfg.CharacterRef.Images = []string{"", "", pick(withImage, image), ""}
		},
		"styleRef": func(cfg *jsoncfg.GenerationConfig, enabled, withImage bool) {
			cfg.StyleRef.Enabled = enabled
			cfg.StyleRef.Image = pick(withImage, image)
		},
		"controlNet": func(cfg *jsoncfg.GenerationConfig, enabled, withImage bool) {
			cfg.ControlNet.Enabled = enabled
			cfg.ControlNet.Image = pick(withImage, image)
		},
	}

	for name, set := range blocks {
		for _, enabled := range []bool{false, true} {
			for _, withImage := range []bool{false, true} {
				cfg := jsoncfg.Default()
				cfg.Prompt = "p"
				cfg.Model = "m"
				set(&cfg, enabled, withImage)
				block := blockJSON(t, Build(cfg, 1), name)
				if enabled && withImage {
					if !bytes.Contains(block, []byte(`"enabled":true`)) || !bytes.Contains(block, []byte(image)) {
						t.Fatalf("%s enabled with image = %s, want populated block", name, block)
					}
					continue
				}
				if string(block) != `{"enabled":false}` {
					t.Fatalf("%s (enabled=%v image=%v) = %s, want {\"enabled\":false}", name, enabled, withImage, block)
				}
			}
		}
	}
}

func TestBuildCharacterRefDropsEmptySlots(t *testing.T) {
	req := Build(baseConfig(), 1)
	if !req.CharacterRef.Enabled {
		t.Fatalf("characterRef should be enabled")
	}
	if len(req.CharacterRef.Images) != 1 {
		t.Fatalf("Images = %#v, want the single filled slot", req.CharacterRef.Images)
	}
}

func TestBuildHiresFix(t *testing.T) {
	cfg := baseConfig()
	req := Build(cfg, 1)
	if !req.HiresFix.Enabled || *req.HiresFix.Scale != 2 || *req.HiresFix.Steps != 10 || *req.HiresFix.Denoise != 0.5 {
		t.Fatalf("HiresFix = %+v", req.HiresFix)
	}
	cfg.HiresFix.Enabled = false
	raw, _ := json.Marshal(Build(cfg, 1).HiresFix)
	if string(raw) != `{"enabled":false}` {
		t.Fatalf("disabled hiresFix = %s", raw)
	}
}

func TestSnapshotReflectsRequest(t *testing.T) {
	req := Build(baseConfig(), 3)
	p := Snapshot(req)
	if p.Prompt != req.Prompt || p.Steps != req.Steps || !p.CharacterRef || p.Img2Img {
		t.Fatalf("Snapshot = %+v", p)
	}
	if len(p.Loras) != 1 || p.Loras[0].Name != "film-grain.safetensors" {
		t.Fatalf("Snapshot loras = %#v", p.Loras)
	}
}

func blockJSON(t *testing.T, req Request, name string) []byte {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	block, ok := fields[name]
	if !ok {
		t.Fatalf("payload has no %q block: %s", name, raw)
	}
	return block
}

func pick(ok bool, v string) string {
	if ok {
		return v
	}
	return ""
}
