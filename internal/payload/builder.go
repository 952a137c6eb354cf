package payload

import (
	"strings"

	"matrice/internal/domain"
	"matrice/internal/domain/jsoncfg"
)

// Build translates the working configuration into a backend request. It has
// no side effects: identical inputs produce structurally identical requests,
// and the result shares no memory with cfg.
func Build(cfg jsoncfg.GenerationConfig, seed int64) Request {
	return Request{
		Prompt:         cfg.Prompt,
		NegativePrompt: cfg.NegativePrompt,
		Model:          cfg.Model,
		Vae:            cfg.Vae,
		ClipModel1:     cfg.ClipModel1,
		ClipModel2:     cfg.ClipModel2,
		ClipType:       cfg.ClipType,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Steps:          cfg.Steps,
		CFG:            cfg.CFG,
		Sampler:        cfg.Sampler,
		Scheduler:      cfg.Scheduler,
		Seed:           seed,
		ClipSkip:       cfg.ClipSkip,
		BatchSize:      cfg.BatchSize,
		Performance:    cfg.Performance,
		Loras:          buildLoras(cfg),
		HiresFix:       buildHiresFix(cfg.HiresFix),
		Img2Img:        buildImg2Img(cfg.Img2Img),
		FaceSwap:       buildFaceSwap(cfg.FaceSwap),
		CharacterRef:   buildCharacterRef(cfg.CharacterRef),
		StyleRef:       buildStyleRef(cfg.StyleRef),
		ControlNet:     buildControlNet(cfg.ControlNet),
	}
}

// buildLoras puts the performance preset's automatic LoRAs first, followed by
// every user entry that names a real file.
func buildLoras(cfg jsoncfg.GenerationConfig) []Lora {
	out := []Lora{}
	seen := map[string]struct{}{}
	for _, l := range cfg.AutoLoras() {
		out = append(out, Lora{
			Name:          l.Name,
			StrengthModel: clampStrength(l.StrengthModel),
			StrengthClip:  clampStrength(l.StrengthClip),
		})
		seen[l.Name] = struct{}{}
	}
	for _, l := range cfg.Loras {
		name := strings.TrimSpace(l.Name)
		if name == "" || name == jsoncfg.NoneLora {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		out = append(out, Lora{
			Name:          name,
			StrengthModel: clampStrength(l.StrengthModel),
			StrengthClip:  clampStrength(l.StrengthClip),
			DoubleBlocks:  strings.TrimSpace(l.DoubleBlocks),
			SingleBlocks:  strings.TrimSpace(l.SingleBlocks),
		})
	}
	return out
}

func buildHiresFix(h jsoncfg.HiresFixConfig) HiresFixBlock {
	if !h.Enabled {
		return HiresFixBlock{}
	}
	steps := h.Steps
	if steps < 1 {
		steps = 1
	}
	if steps > jsoncfg.MaxSteps {
		steps = jsoncfg.MaxSteps
	}
	method := h.UpscaleMethod
	if method == "" {
		method = "nearest-exact"
	}
	return HiresFixBlock{
		Enabled:       true,
		Scale:         f64(jsoncfg.ClampFloat(h.Scale, 1, 4, 2)),
		Steps:         &steps,
		Denoise:       unit(h.Denoise, 0.5),
		UpscaleMethod: method,
	}
}

func buildImg2Img(b jsoncfg.Img2ImgConfig) Img2ImgBlock {
	if !b.Enabled || !present(b.Image) {
		return Img2ImgBlock{}
	}
	return Img2ImgBlock{Enabled: true, Image: b.Image, Denoise: unit(b.Denoise, 0.75)}
}

func buildFaceSwap(b jsoncfg.FaceSwapConfig) FaceSwapBlock {
	if !b.Enabled || !present(b.Image) {
		return FaceSwapBlock{}
	}
	return FaceSwapBlock{Enabled: true, Image: b.Image, Fidelity: unit(b.Fidelity, 0.8)}
}

func buildCharacterRef(b jsoncfg.CharacterRefConfig) CharacterRefBlock {
	if !b.Enabled || !b.HasImage() {
		return CharacterRefBlock{}
	}
	images := make([]string, 0, len(b.Images))
	for _, img := range b.Images {
		if present(img) {
			images = append(images, img)
		}
	}
	if len(images) > jsoncfg.MaxCharacterImages {
		images = images[:jsoncfg.MaxCharacterImages]
	}
	return CharacterRefBlock{
		Enabled:      true,
		Images:       images,
		Strength:     f64(jsoncfg.ClampFloat(b.Strength, 0, 2, 0.8)),
		StartPercent: unit(b.StartPercent, 0),
		EndPercent:   unit(b.EndPercent, 0.9),
		Model:        b.Model,
		Noise:        unit(b.Noise, 0),
	}
}

func buildStyleRef(b jsoncfg.StyleRefConfig) StyleRefBlock {
	if !b.Enabled || !present(b.Image) {
		return StyleRefBlock{}
	}
	return StyleRefBlock{
		Enabled:      true,
		Image:        b.Image,
		Strength:     f64(jsoncfg.ClampFloat(b.Strength, 0, 2, 0.6)),
		StartPercent: unit(b.StartPercent, 0),
		EndPercent:   unit(b.EndPercent, 1),
		Model:        b.Model,
		Noise:        unit(b.Noise, 0),
	}
}

func buildControlNet(b jsoncfg.ControlNetConfig) ControlNetBlock {
	if !b.Enabled || !present(b.Image) {
		return ControlNetBlock{}
	}
	return ControlNetBlock{
		Enabled:      true,
		Image:        b.Image,
		Preprocessor: b.Preprocessor,
		Model:        b.Model,
		Strength:     f64(jsoncfg.ClampFloat(b.Strength, 0, 2, 1)),
		StartPercent: unit(b.StartPercent, 0),
		EndPercent:   unit(b.EndPercent, 0.6),
	}
}

// Snapshot captures the display parameters stored on a job. It reads the
// built request so the snapshot reflects exactly what was sent.
func Snapshot(req Request) domain.Params {
	p := domain.Params{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Vae:            req.Vae,
		Sampler:        req.Sampler,
		Scheduler:      req.Scheduler,
		Steps:          req.Steps,
		CFG:            req.CFG,
		Width:          req.Width,
		Height:         req.Height,
		HiresFix:       req.HiresFix.Enabled,
		Img2Img:        req.Img2Img.Enabled,
		FaceSwap:       req.FaceSwap.Enabled,
		CharacterRef:   req.CharacterRef.Enabled,
		StyleRef:       req.StyleRef.Enabled,
		ControlNet:     req.ControlNet.Enabled,
	}
	for _, l := range req.Loras {
		p.Loras = append(p.Loras, domain.LoraParams{
			Name:          l.Name,
			StrengthModel: l.StrengthModel,
			StrengthClip:  l.StrengthClip,
		})
	}
	return p
}

func clampStrength(v float64) float64 {
	return jsoncfg.ClampFloat(v, jsoncfg.StrengthMin, jsoncfg.StrengthMax, jsoncfg.StrengthFallback)
}

func unit(v, fallback float64) *float64 {
	return f64(jsoncfg.ClampFloat(v, 0, 1, fallback))
}

func f64(v float64) *float64 {
	return &v
}

func present(image string) bool {
	return strings.TrimSpace(image) != ""
}
