package backend

import (
	"path/filepath"
	"testing"

	iface "SpoofDetServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	f, err := New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &OpenCV{}, f())

	f, err = New(Options{Kind: " ONNX "})
	require.NoError(t, err)
	assert.IsType(t, &ONNX{}, f())

	_, err = New(Options{Kind: "ncnn"})
	assert.ErrorContains(t, err, "unsupported backend")
	assert.Equal(t, []string{KindONNX, KindOpenCV}, Kinds())
}

func TestFactoryReturnsFreshBackends(t *testing.T) {
	f, err := New(Options{Kind: KindONNX})
	require.NoError(t, err)
	assert.NotSame(t, f(), f())
}

func TestUnloaded(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.onnx")
	for _, b := range []iface.Backend{NewOpenCV(Options{}), NewONNX(Options{})} {
		assert.Equal(t, ".onnx", b.Ext())
		assert.Error(t, b.Load(missing))

		_, err := b.Run(iface.Tensor{Shape: []int64{1, 3, 2, 2}, Data: make([]float32, 12)})
		assert.Error(t, err)
		assert.NoError(t, b.Close())
	}
}
