package backend

import (
	"errors"
	"fmt"
	"os"
	"sync"

	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var envMu sync.Mutex

// initEnvironment initializes the process-wide onnxruntime environment on
// first use.
func initEnvironment(sharedLibrary string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if sharedLibrary != "" {
		ort.SetSharedLibraryPath(sharedLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx: init environment: %w", err)
	}
	logger.Log().Info("onnxruntime environment initialized", zap.String("library", sharedLibrary))
	return nil
}

// ONNX runs models through ONNX Runtime.
type ONNX struct {
	opts     Options
	session  *ort.DynamicAdvancedSession
	inName   string
	outNames []string
}

func NewONNX(opts Options) *ONNX {
	return &ONNX{opts: opts}
}

func (o *ONNX) Ext() string {
	return ".onnx"
}

func (o *ONNX) Load(modelPath string) error {
	if o.session != nil {
		return errors.New("onnx: model already loaded")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("onnx: %w", err)
	}
	if err := initEnvironment(o.opts.SharedLibrary); err != nil {
		return err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("onnx: io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return fmt.Errorf("onnx: expected one input and at least one output, got in:%d out:%d", len(inputs), len(outputs))
	}
	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("onnx: session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			logger.Log().Warn("destroy session options", zap.Error(err))
		}
	}()
	if o.opts.Threads > 0 {
		_ = opts.SetIntraOpNumThreads(o.opts.Threads)
	}
	if o.opts.UseGPU {
		if err := appendCUDA(opts); err != nil {
			return err
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputs[0].Name}, outNames, opts)
	if err != nil {
		return fmt.Errorf("onnx: session: %w", err)
	}
	o.session = session
	o.inName = inputs[0].Name
	o.outNames = outNames
	logger.Log().Debug("onnx session created", zap.String("path", modelPath),
		zap.String("input", o.inName), zap.Strings("outputs", outNames))
	return nil
}

func appendCUDA(opts *ort.SessionOptions) error {
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("onnx: cuda options: %w", err)
	}
	defer cuda.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return fmt.Errorf("onnx: cuda provider: %w", err)
	}
	return nil
}

func (o *ONNX) Run(input iface.Tensor) ([]iface.Tensor, error) {
	if o.session == nil {
		return nil, errors.New("onnx: no model loaded")
	}
	if input.Len() != len(input.Data) || len(input.Data) == 0 {
		return nil, fmt.Errorf("onnx: tensor shape %v does not match %d values", input.Shape, len(input.Data))
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("onnx: input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := make([]ort.Value, len(o.outNames))
	if err := o.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	result := make([]iface.Tensor, 0, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("onnx: output %s has unsupported type %T", o.outNames[i], v)
		}
		result = append(result, iface.Tensor{
			Shape: append([]int64(nil), t.GetShape()...),
			Data:  append([]float32(nil), t.GetData()...),
		})
	}
	return result, nil
}

func (o *ONNX) Close() error {
	if o.session == nil {
		return nil
	}
	err := o.session.Destroy()
	o.session = nil
	o.outNames = nil
	return err
}
