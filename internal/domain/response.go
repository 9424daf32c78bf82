package domain

const StatusSuccess = "success"

// ErrorKind classifies a failed response for the hosting layer. It never
// reaches the wire.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindInvalidInput ErrorKind = "invalid_input"
	KindSubmission   ErrorKind = "submission"
	KindTimeout      ErrorKind = "timeout"
	KindNoImages     ErrorKind = "no_images"
	KindInternal     ErrorKind = "internal"
)

type ImageArtifact struct {
	Filename  string `json:"filename"`
	Data      string `json:"data"`
	ObjectKey string `json:"object_key,omitempty"`

	Width  int `json:"-"`
	Height int `json:"-"`
	Bytes  int `json:"-"`
}

type Metadata struct {
	Prompt string  `json:"prompt"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Seed   int64   `json:"seed"`
	Steps  int     `json:"steps"`
	CFG    float64 `json:"cfg"`
	Mode   string  `json:"mode"`
}

type Response struct {
	Status         string          `json:"status,omitempty"`
	PromptID       string          `json:"prompt_id,omitempty"`
	Images         []ImageArtifact `json:"images,omitempty"`
	GenerationTime *float64        `json:"generation_time,omitempty"`
	Metadata       *Metadata       `json:"metadata,omitempty"`
	Error          string          `json:"error,omitempty"`
	Traceback      string          `json:"traceback,omitempty"`

	Kind ErrorKind `json:"-"`
}

func (r Response) Failed() bool {
	return r.Error != ""
}
