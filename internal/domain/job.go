package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusGenerating  JobStatus = "generating"
	JobStatusComplete    JobStatus = "complete"
	JobStatusError       JobStatus = "error"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusDownloading,
	JobStatusGenerating,
	JobStatusComplete,
	JobStatusError,
}

// IsTerminal reports whether no further transition is accepted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// FailureKind classifies why a job ended in error.
type FailureKind string

const (
	FailureBackend        FailureKind = "backend"
	FailureSubmission     FailureKind = "submission"
	FailureTimeout        FailureKind = "timeout"
	FailureConnectionLost FailureKind = "connection_lost"
	FailureDownload       FailureKind = "download"
)

// LoraParams records one LoRA as it was sent with the job.
type LoraParams struct {
	Name          string  `json:"name"`
	StrengthModel float64 `json:"strengthModel"`
	StrengthClip  float64 `json:"strengthClip"`
}

// Params is the generation parameter snapshot taken at submission time. It is
// never re-derived from the working configuration afterwards.
type Params struct {
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negativePrompt,omitempty"`
	Model          string       `json:"model"`
	Vae            string       `json:"vae,omitempty"`
	Sampler        string       `json:"sampler"`
	Scheduler      string       `json:"scheduler"`
	Steps          int          `json:"steps"`
	CFG            float64      `json:"cfg"`
	Width          int          `json:"width"`
	Height         int          `json:"height"`
	Loras          []LoraParams `json:"loras,omitempty"`
	HiresFix       bool         `json:"hiresFix"`
	Img2Img        bool         `json:"img2img"`
	FaceSwap       bool         `json:"faceSwap"`
	CharacterRef   bool         `json:"characterRef"`
	StyleRef       bool         `json:"styleRef"`
	ControlNet     bool         `json:"controlNet"`
}

// Clone returns a copy that shares no memory with p.
func (p Params) Clone() Params {
	out := p
	if p.Loras != nil {
		out.Loras = append([]LoraParams(nil), p.Loras...)
	}
	return out
}

// Job is one client-tracked generation request and its lifecycle state.
type Job struct {
	ID          string
	Status      JobStatus
	Progress    int
	CurrentStep int
	TotalSteps  int
	PreviewURL  string
	URL         string
	Seed        int64
	BatchIndex  int

	StartTime time.Time
	EndTime   time.Time

	ErrorMessage string
	FailureKind  FailureKind

	DownloadFilename  string
	DownloadProgress  int
	DownloadSizeLabel string
	DownloadStartedAt time.Time

	Params  Params
	Payload json.RawMessage
}

// Clone returns a deep copy so callers can never mutate queue-owned state.
func (j Job) Clone() Job {
	out := j
	out.Params = j.Params.Clone()
	if j.Payload != nil {
		out.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return out
}

// ClearDownload resets every download detour field.
func (j *Job) ClearDownload() {
	j.DownloadFilename = ""
	j.DownloadProgress = 0
	j.DownloadSizeLabel = ""
	j.DownloadStartedAt = time.Time{}
}

type jobJSON struct {
	ID                string          `json:"id"`
	Status            JobStatus       `json:"status"`
	Progress          int             `json:"progress"`
	CurrentStep       int             `json:"currentStep"`
	TotalSteps        int             `json:"totalSteps"`
	PreviewURL        string          `json:"previewUrl,omitempty"`
	URL               string          `json:"url,omitempty"`
	Seed              int64           `json:"seed"`
	BatchIndex        int             `json:"batchIndex"`
	StartTime         int64           `json:"startTime"`
	EndTime           int64           `json:"endTime,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	FailureKind       FailureKind     `json:"failureKind,omitempty"`
	DownloadFilename  string          `json:"downloadFilename,omitempty"`
	DownloadProgress  int             `json:"downloadProgress,omitempty"`
	DownloadSizeLabel string          `json:"downloadSizeLabel,omitempty"`
	Params            Params          `json:"params"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON renders timestamps as epoch milliseconds.
func (j Job) MarshalJSON() ([]byte, error) {
	out := jobJSON{
		ID:                j.ID,
		Status:            j.Status,
		Progress:          j.Progress,
		CurrentStep:       j.CurrentStep,
		TotalSteps:        j.TotalSteps,
		PreviewURL:        j.PreviewURL,
		URL:               j.URL,
		Seed:              j.Seed,
		BatchIndex:        j.BatchIndex,
		StartTime:         millis(j.StartTime),
		EndTime:           millis(j.EndTime),
		ErrorMessage:      j.ErrorMessage,
		FailureKind:       j.FailureKind,
		DownloadFilename:  j.DownloadFilename,
		DownloadProgress:  j.DownloadProgress,
		DownloadSizeLabel: j.DownloadSizeLabel,
		Params:            j.Params,
		Payload:           j.Payload,
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (j *Job) UnmarshalJSON(data []byte) error {
	var in jobJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*j = Job{
		ID:                in.ID,
		Status:            in.Status,
		Progress:          in.Progress,
		CurrentStep:       in.CurrentStep,
		TotalSteps:        in.TotalSteps,
		PreviewURL:        in.PreviewURL,
		URL:               in.URL,
		Seed:              in.Seed,
		BatchIndex:        in.BatchIndex,
		StartTime:         fromMillis(in.StartTime),
		EndTime:           fromMillis(in.EndTime),
		ErrorMessage:      in.ErrorMessage,
		FailureKind:       in.FailureKind,
		DownloadFilename:  in.DownloadFilename,
		DownloadProgress:  in.DownloadProgress,
		DownloadSizeLabel: in.DownloadSizeLabel,
		Params:            in.Params,
		Payload:           in.Payload,
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
