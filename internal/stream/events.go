package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrMalformedEvent is returned for a message that is not a JSON object
	// with a string type, or whose fields do not fit its type.
	ErrMalformedEvent = errors.New("stream: malformed event")
	// ErrUnknownEvent is returned for a well-formed message of a type this
	// client does not handle.
	ErrUnknownEvent = errors.New("stream: unknown event type")
)

// EventType discriminates backend events.
type EventType string

const (
	EventConnectionStatus EventType = "connection_status"
	EventProgress         EventType = "progress"
	EventPreview          EventType = "preview"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
	EventLoraDownload     EventType = "lora_download"
	EventQueueStatus      EventType = "queue_status"
	EventExecuting        EventType = "executing"
	EventExecutingDone    EventType = "executing_done"
	EventCached           EventType = "cached"
)

// Download phases carried by lora_download events.
const (
	DownloadStarted  = "started"
	DownloadProgress = "progress"
	DownloadComplete = "complete"
	DownloadFailed   = "failed"
)

// Event is one decoded backend message. Only the fields relevant to Type are
// populated.
type Event struct {
	Type  EventType
	JobID string

	Connected bool

	Step       int
	TotalSteps int

	ImageBase64 string
	ImageURL    string
	Message     string

	DownloadStatus string
	Filename       string
	SizeLabel      string
	Percent        int
	DownloadError  string

	QueueRemaining int
}

type wireEvent struct {
	Type           *string  `json:"type"`
	JobID          string   `json:"jobId"`
	Connected      *bool    `json:"connected"`
	Step           *float64 `json:"step"`
	TotalSteps     *float64 `json:"totalSteps"`
	ImageBase64    string   `json:"imageBase64"`
	ImageURL       string   `json:"imageUrl"`
	Message        string   `json:"message"`
	Status         string   `json:"status"`
	Filename       string   `json:"filename"`
	SizeLabel      string   `json:"sizeLabel"`
	Percent        *float64 `json:"percent"`
	Error          string   `json:"error"`
	QueueRemaining *float64 `json:"queueRemaining"`
}

// Parse decodes one message. It never panics; every failure is either
// ErrMalformedEvent or ErrUnknownEvent.
func Parse(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if w.Type == nil || *w.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	ev := Event{Type: EventType(*w.Type), JobID: strings.TrimSpace(w.JobID)}

	switch ev.Type {
	case EventConnectionStatus:
		if w.Connected == nil {
			return Event{}, fmt.Errorf("%w: connection_status without connected", ErrMalformedEvent)
		}
		ev.Connected = *w.Connected
	case EventProgress:
		if w.Step == nil {
			return Event{}, fmt.Errorf("%w: progress without step", ErrMalformedEvent)
		}
		ev.Step = toInt(*w.Step)
		if w.TotalSteps != nil {
			ev.TotalSteps = toInt(*w.TotalSteps)
		}
	case EventPreview:
		if w.ImageBase64 == "" {
			return Event{}, fmt.Errorf("%w: preview without image", ErrMalformedEvent)
		}
		ev.ImageBase64 = w.ImageBase64
	case EventComplete:
		ev.ImageURL = w.ImageURL
	case EventError:
		ev.Message = w.Message
	case EventLoraDownload:
		switch w.Status {
		case DownloadStarted, DownloadProgress, DownloadComplete, DownloadFailed:
		default:
			return Event{}, fmt.Errorf("%w: lora_download status %q", ErrMalformedEvent, w.Status)
		}
		ev.DownloadStatus = w.Status
		ev.Filename = w.Filename
		ev.SizeLabel = w.SizeLabel
		ev.DownloadError = w.Error
		if w.Percent != nil {
			ev.Percent = toInt(*w.Percent)
		}
	case EventQueueStatus:
		if w.QueueRemaining != nil {
			ev.QueueRemaining = toInt(*w.QueueRemaining)
		}
	case EventExecuting, EventExecutingDone, EventCached:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return ev, nil
}

// PreviewURL turns a preview payload into something an image element can
// load. Payloads that are already data URLs pass through.
func PreviewURL(imageBase64 string) string {
	if strings.HasPrefix(imageBase64, "data:") {
		return imageBase64
	}
	return "data:image/jpeg;base64," + imageBase64
}

func toInt(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(math.Round(f))
}
