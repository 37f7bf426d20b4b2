package engine

import (
	"bytes"
	"errors"
	"strings"
	"sync"

	"SpoofDetServer/backend"
	"SpoofDetServer/frame"
	iface "SpoofDetServer/interface"
)

// MockBackend records calls and answers Run with a canned function.
type MockBackend struct {
	mu       sync.Mutex
	failLoad string
	run      func(in iface.Tensor) ([]iface.Tensor, error)

	Path   string
	Closed bool
	Runs   int
	Last   iface.Tensor
}

func (m *MockBackend) Load(path string) error {
	if m.failLoad != "" && strings.Contains(path, m.failLoad) {
		return errors.New("mock: corrupt model")
	}
	m.Path = path
	return nil
}

func (m *MockBackend) Run(in iface.Tensor) ([]iface.Tensor, error) {
	m.mu.Lock()
	m.Runs++
	m.Last = iface.Tensor{Shape: in.Shape, Data: append([]float32(nil), in.Data...)}
	m.mu.Unlock()
	if m.run == nil {
		return nil, errors.New("mock: no output")
	}
	return m.run(in)
}

func (m *MockBackend) Close() error {
	m.Closed = true
	return nil
}

func (m *MockBackend) Ext() string {
	return ".onnx"
}

// mockFactory hands out MockBackends, letting a test configure each one by
// creation order.
type mockFactory struct {
	mu        sync.Mutex
	made      []*MockBackend
	configure func(i int, m *MockBackend)
}

func (f *mockFactory) Factory() backend.Factory {
	return func() iface.Backend {
		f.mu.Lock()
		defer f.mu.Unlock()
		m := &MockBackend{}
		if f.configure != nil {
			f.configure(len(f.made), m)
		}
		f.made = append(f.made, m)
		return m
	}
}

func (f *mockFactory) Made() []*MockBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockBackend(nil), f.made...)
}

// nativeOutput answers with fixed boxes (model pixels, xyxy) and scores.
func nativeOutput(boxes [][4]float32, scores []float32) func(iface.Tensor) ([]iface.Tensor, error) {
	return func(iface.Tensor) ([]iface.Tensor, error) {
		b := make([]float32, 0, len(boxes)*4)
		for _, box := range boxes {
			b = append(b, box[:]...)
		}
		return []iface.Tensor{
			{Shape: []int64{int64(len(boxes)), 4}, Data: b},
			{Shape: []int64{int64(len(scores))}, Data: append([]float32(nil), scores...)},
		}, nil
	}
}

func logits(values ...float32) func(iface.Tensor) ([]iface.Tensor, error) {
	return func(iface.Tensor) ([]iface.Tensor, error) {
		return []iface.Tensor{{Shape: []int64{1, int64(len(values))}, Data: append([]float32(nil), values...)}}, nil
	}
}

func grayNV21(width, height int) frame.View {
	return frame.View{
		Data:   bytes.Repeat([]byte{128}, width*height*3/2),
		Width:  width,
		Height: height,
		Format: frame.NV21,
	}
}
