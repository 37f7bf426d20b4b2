package proto

import (
	"errors"
	"fmt"

	"SpoofDetServer/engine"
	"SpoofDetServer/frame"
	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"
)

// Result is the status block every response carries. Domain failures travel
// here; transport errors are reserved for malformed calls.
type Result struct {
	Success    bool   `json:"success"`
	Status     int32  `json:"status"`
	StatusName string `json:"status_name"`
	Message    string `json:"message,omitempty"`
}

func resultOf(err error, ok string) Result {
	st := iface.StatusOf(err)
	r := Result{Success: err == nil, Status: int32(st), StatusName: st.String(), Message: ok}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// Err rebuilds a matchable error from the status block.
func (r Result) Err() error {
	st := iface.Status(r.Status)
	if st == iface.StatusOK {
		return nil
	}
	return fmt.Errorf("%w: %s", st.Err(), r.Message)
}

// Frame is a raw camera buffer, or a compressed image when Image is set.
type Frame struct {
	Data        []byte `json:"data,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Format      string `json:"format,omitempty"`
	Orientation int    `json:"orientation,omitempty"`
	Image       []byte `json:"image,omitempty"`
}

func (f *Frame) View() (frame.View, error) {
	if f == nil {
		return frame.View{}, fmt.Errorf("%w: missing frame", iface.ErrInvalidFrame)
	}
	if len(f.Image) > 0 {
		return frame.DecodeBytes(f.Image)
	}
	format, err := frame.ParseFormat(f.Format)
	if err != nil {
		return frame.View{}, err
	}
	v := frame.View{
		Data:        f.Data,
		Width:       f.Width,
		Height:      f.Height,
		Format:      format,
		Orientation: geometry.Orientation(f.Orientation),
	}
	return v, v.Validate()
}

type CreateEngineRequest struct {
	Description string `json:"description"`
}

type CreateEngineResponse struct {
	Result
	Id string `json:"id"`
}

type EngineRequest struct {
	Id string `json:"id"`
}

type LoadFaceModelRequest struct {
	Id     string               `json:"id"`
	Config iface.DetectorConfig `json:"config"`
}

type LoadLivenessModelsRequest struct {
	Id     string              `json:"id"`
	Models []iface.ModelConfig `json:"models"`
}

type LoadModelResponse struct {
	Result
	// FailedIndex is the failing liveness config index, or -1 for the detector.
	FailedIndex *int `json:"failed_index,omitempty"`
}

func loadResult(err error) *LoadModelResponse {
	resp := &LoadModelResponse{Result: resultOf(err, "model loaded")}
	var mle *iface.ModelLoadError
	if errors.As(err, &mle) {
		idx := mle.Index
		resp.FailedIndex = &idx
	}
	return resp
}

type DetectFacesRequest struct {
	Id    string `json:"id"`
	Frame *Frame `json:"frame"`
}

type DetectFacesResponse struct {
	Result
	Faces []iface.FaceBox `json:"faces"`
}

type ScoreLivenessRequest struct {
	Id    string        `json:"id"`
	Frame *Frame        `json:"frame"`
	Face  iface.FaceBox `json:"face"`
}

type ScoreLivenessResponse struct {
	Result
	Score   float32        `json:"score"`
	Verdict engine.Verdict `json:"verdict"`
}

type AnalyzeRequest struct {
	Id    string `json:"id"`
	Frame *Frame `json:"frame"`
}

type AnalyzeResponse struct {
	Result
	Faces []engine.FaceResult `json:"faces"`
}

type StatusResponse struct {
	Result
}

type CheckAllEnginesResponse struct {
	Result
	Engines []iface.EngineInfo `json:"engines"`
}

// UploadChunk is one message of the UploadModel stream. Name is required on
// the first chunk.
type UploadChunk struct {
	Name string `json:"name,omitempty"`
	Data []byte `json:"data,omitempty"`
}

type UploadModelResponse struct {
	Result
	Path string `json:"path"`
	Size int64  `json:"size"`
}
