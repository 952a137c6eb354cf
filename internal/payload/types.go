package payload

// Request is the body of POST /generate. Every optional block is always
// present and serializes as {"enabled":false} when it is not in use.
type Request struct {
	JobID          string  `json:"jobId,omitempty"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt"`
	Model          string  `json:"model"`
	Vae            string  `json:"vae"`
	ClipModel1     string  `json:"clipModel1"`
	ClipModel2     string  `json:"clipModel2"`
	ClipType       string  `json:"clipType"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFG            float64 `json:"cfg"`
	Sampler        string  `json:"sampler"`
	Scheduler      string  `json:"scheduler"`
	Seed           int64   `json:"seed"`
	ClipSkip       int     `json:"clipSkip"`
	BatchSize      int     `json:"batchSize"`
	Performance    string  `json:"performance"`

	Loras    []Lora        `json:"loras"`
	HiresFix HiresFixBlock `json:"hiresFix"`

	Img2Img      Img2ImgBlock      `json:"img2img"`
	FaceSwap     FaceSwapBlock     `json:"faceSwap"`
	CharacterRef CharacterRefBlock `json:"characterRef"`
	StyleRef     StyleRefBlock     `json:"styleRef"`
	ControlNet   ControlNetBlock   `json:"controlNet"`
}

type Lora struct {
	Name          string  `json:"name"`
	StrengthModel float64 `json:"strengthModel"`
	StrengthClip  float64 `json:"strengthClip"`
	DoubleBlocks  string  `json:"doubleBlocks,omitempty"`
	SingleBlocks  string  `json:"singleBlocks,omitempty"`
}

// Optional numeric fields are pointers so a disabled block carries nothing
// but its flag, while an enabled block can still send a literal zero.

type HiresFixBlock struct {
	Enabled       bool     `json:"enabled"`
	Scale         *float64 `json:"scale,omitempty"`
	Steps         *int     `json:"steps,omitempty"`
	Denoise       *float64 `json:"denoise,omitempty"`
	UpscaleMethod string   `json:"upscaleMethod,omitempty"`
}

type Img2ImgBlock struct {
	Enabled bool     `json:"enabled"`
	Image   string   `json:"image,omitempty"`
	Denoise *float64 `json:"denoise,omitempty"`
}

type FaceSwapBlock struct {
	Enabled  bool     `json:"enabled"`
	Image    string   `json:"image,omitempty"`
	Fidelity *float64 `json:"fidelity,omitempty"`
}

type CharacterRefBlock struct {
	Enabled      bool     `json:"enabled"`
	Images       []string `json:"images,omitempty"`
	Strength     *float64 `json:"strength,omitempty"`
	StartPercent *float64 `json:"startPercent,omitempty"`
	EndPercent   *float64 `json:"endPercent,omitempty"`
	Model        string   `json:"model,omitempty"`
	Noise        *float64 `json:"noise,omitempty"`
}

type StyleRefBlock struct {
	Enabled      bool     `json:"enabled"`
	Image        string   `json:"image,omitempty"`
	Strength     *float64 `json:"strength,omitempty"`
	StartPercent *float64 `json:"startPercent,omitempty"`
	EndPercent   *float64 `json:"endPercent,omitempty"`
	Model        string   `json:"model,omitempty"`
	Noise        *float64 `json:"noise,omitempty"`
}

type ControlNetBlock struct {
	Enabled      bool     `json:"enabled"`
	Image        string   `json:"image,omitempty"`
	Preprocessor string   `json:"preprocessor,omitempty"`
	Model        string   `json:"model,omitempty"`
	Strength     *float64 `json:"strength,omitempty"`
	StartPercent *float64 `json:"startPercent,omitempty"`
	EndPercent   *float64 `json:"endPercent,omitempty"`
}
