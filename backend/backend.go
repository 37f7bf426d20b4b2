// Package backend adapts concrete inference runtimes to iface.Backend.
package backend

import (
	"fmt"
	"sort"
	"strings"

	iface "SpoofDetServer/interface"
)

const (
	KindOpenCV = "opencv"
	KindONNX   = "onnx"
)

// Options selects and tunes the runtime. It is read from the backend section
// of config.yaml.
type Options struct {
	Kind string `yaml:"kind"`
	// SharedLibrary is the onnxruntime shared library; empty uses the
	// platform default search path.
	SharedLibrary string `yaml:"sharedLibrary"`
	Threads       int    `yaml:"threads"`
	UseGPU        bool   `yaml:"useGPU"`
}

// Factory creates one unloaded backend. Every engine component gets its own.
type Factory func() iface.Backend

var kinds = map[string]func(Options) Factory{
	KindOpenCV: func(o Options) Factory {
		return func() iface.Backend { return NewOpenCV(o) }
	},
	KindONNX: func(o Options) Factory {
		return func() iface.Backend { return NewONNX(o) }
	},
}

// New returns the factory for opts.Kind. An empty kind selects OpenCV DNN.
func New(opts Options) (Factory, error) {
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		kind = KindOpenCV
	}
	mk, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported backend %q (supported: %s)", opts.Kind, strings.Join(Kinds(), ", "))
	}
	return mk(opts), nil
}

func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
