package iface

// FaceBox is one detected face in device-frame pixel coordinates.
type FaceBox struct {
	Left       int     `json:"left" yaml:"left"`
	Top        int     `json:"top" yaml:"top"`
	Right      int     `json:"right" yaml:"right"`
	Bottom     int     `json:"bottom" yaml:"bottom"`
	Confidence float32 `json:"confidence" yaml:"confidence"`
}

func (b FaceBox) Width() int {
	return b.Right - b.Left
}

func (b FaceBox) Height() int {
	return b.Bottom - b.Top
}

// Valid reports whether the box has positive area.
func (b FaceBox) Valid() bool {
	return b.Left < b.Right && b.Top < b.Bottom
}

// ModelConfig describes one liveness sub-model and its geometric preprocessing.
// The keys follow the config.json shipped with the mobile app.
type ModelConfig struct {
	Scale     float32 `json:"scale" yaml:"scale"`
	ShiftX    float32 `json:"shift_x" yaml:"shift_x"`
	ShiftY    float32 `json:"shift_y" yaml:"shift_y"`
	Width     int     `json:"width" yaml:"width"`
	Height    int     `json:"height" yaml:"height"`
	Name      string  `json:"name" yaml:"name"`
	OrgResize bool    `json:"org_resize" yaml:"org_resize"`

	// Path overrides the model file resolved from Name.
	Path      string     `json:"path,omitempty" yaml:"path,omitempty"`
	Mean      [3]float64 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Norm      float64    `json:"norm,omitempty" yaml:"norm,omitempty"`
	SwapRB    bool       `json:"swap_rb,omitempty" yaml:"swap_rb,omitempty"`
	LiveIndex int        `json:"live_index,omitempty" yaml:"live_index,omitempty"`
}

// DetectorConfig describes the face detection model. Zero values select the
// defaults: a 320x320 input, confidence 0.6, NMS IoU 0.4, the ssd decoder and
// unit norm. A threshold of exactly 0 therefore cannot be configured.
type DetectorConfig struct {
	ModelPath     string     `json:"model_path" yaml:"modelPath"`
	InputWidth    int        `json:"input_width" yaml:"inputWidth"`
	InputHeight   int        `json:"input_height" yaml:"inputHeight"`
	Letterbox     bool       `json:"letterbox" yaml:"letterbox"`
	ConfThreshold float32    `json:"conf_threshold" yaml:"confThreshold"`
	NMSThreshold  float32    `json:"nms_threshold" yaml:"nmsThreshold"`
	Decoder       string     `json:"decoder" yaml:"decoder"`
	Mean          [3]float64 `json:"mean" yaml:"mean"`
	Norm          float64    `json:"norm" yaml:"norm"`
	SwapRB        bool       `json:"swap_rb" yaml:"swapRB"`
}

// Tensor is a dense float32 tensor exchanged with an inference backend.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Backend is the opaque inference executor. One Backend holds one loaded model
// and is owned by exactly one engine component.
type Backend interface {
	Load(modelPath string) error
	Run(input Tensor) ([]Tensor, error)
	Close() error
	// Ext is the model file extension this backend reads, e.g. ".onnx".
	Ext() string
}

// EngineInfo summarizes an engine for status listings.
type EngineInfo struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	State          string   `json:"state"`
	DetectorModel  string   `json:"detector_model"`
	LivenessModels []string `json:"liveness_models"`
}
