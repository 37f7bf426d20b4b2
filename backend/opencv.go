package backend

import (
	"errors"
	"fmt"
	"os"

	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// OpenCV runs models through the OpenCV DNN module.
type OpenCV struct {
	opts     Options
	net      gocv.Net
	outNames []string
	loaded   bool
}

func NewOpenCV(opts Options) *OpenCV {
	return &OpenCV{opts: opts}
}

func (o *OpenCV) Ext() string {
	return ".onnx"
}

func (o *OpenCV) Load(modelPath string) error {
	if o.loaded {
		return errors.New("opencv: model already loaded")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("opencv: %w", err)
	}
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		_ = net.Close()
		return fmt.Errorf("opencv: failed to read network from %s", modelPath)
	}
	if o.opts.UseGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	layers := net.GetLayerNames()
	var names []string
	for _, id := range net.GetUnconnectedOutLayers() {
		if id > 0 && id <= len(layers) {
			names = append(names, layers[id-1])
		}
	}
	if len(names) == 0 {
		_ = net.Close()
		return fmt.Errorf("opencv: %s has no output layers", modelPath)
	}

	o.net = net
	o.outNames = names
	o.loaded = true
	logger.Log().Debug("opencv network loaded", zap.String("path", modelPath), zap.Strings("outputs", names))
	return nil
}

func (o *OpenCV) Run(input iface.Tensor) ([]iface.Tensor, error) {
	if !o.loaded {
		return nil, errors.New("opencv: no model loaded")
	}
	if input.Len() != len(input.Data) || len(input.Data) == 0 {
		return nil, fmt.Errorf("opencv: tensor shape %v does not match %d values", input.Shape, len(input.Data))
	}
	sizes := make([]int, len(input.Shape))
	for i, d := range input.Shape {
		sizes[i] = int(d)
	}
	blob := gocv.NewMatWithSizes(sizes, gocv.MatTypeCV32F)
	defer blob.Close()
	dst, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("opencv: %w", err)
	}
	copy(dst, input.Data)

	o.net.SetInput(blob, "")
	outs := o.net.ForwardLayers(o.outNames)
	defer func() {
		for i := range outs {
			_ = outs[i].Close()
		}
	}()

	result := make([]iface.Tensor, 0, len(outs))
	for i := range outs {
		data, err := outs[i].DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("opencv: output %s: %w", o.outNames[i], err)
		}
		shape := make([]int64, 0, 4)
		for _, d := range outs[i].Size() {
			shape = append(shape, int64(d))
		}
		result = append(result, iface.Tensor{
			Shape: shape,
			Data:  append([]float32(nil), data...),
		})
	}
	return result, nil
}

func (o *OpenCV) Close() error {
	if !o.loaded {
		return nil
	}
	o.loaded = false
	o.outNames = nil
	return o.net.Close()
}
