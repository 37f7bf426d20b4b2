package proto

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"SpoofDetServer/engine"
	iface "SpoofDetServer/interface"
	"SpoofDetServer/modelstore"
	"SpoofDetServer/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
)

// MockBackend answers detector-sized inputs (320x320) with one face box and
// everything else with a two-class liveness head.
type MockBackend struct{}

func (m *MockBackend) Load(modelPath string) error {
	if strings.Contains(modelPath, "broken") {
		return errors.New("mock: corrupt model")
	}
	return nil
}

func (m *MockBackend) Run(in iface.Tensor) ([]iface.Tensor, error) {
	if in.Shape[3] == 320 {
		return []iface.Tensor{
			{Shape: []int64{1, 4}, Data: []float32{80, 80, 160, 160}},
			{Shape: []int64{1}, Data: []float32{0.9}},
		}, nil
	}
	return []iface.Tensor{{Shape: []int64{1, 2}, Data: []float32{0, 1.8}}}, nil
}

func (m *MockBackend) Close() error { return nil }
func (m *MockBackend) Ext() string { return ".onnx" }

func newTestServer(t *testing.T) (*Server, *bufconn.Listener) {
	t.Helper()
	registry := engine.NewRegistry(func() iface.Backend { return &MockBackend{} })
	pool := worker.NewPool(2)
	models, err := modelstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
		registry.DestroyAll()
	})
	return NewServer(registry, pool, models), bufconn.Listen(1 << 20)
}

func dial(t *testing.T, lis *bufconn.Listener) *LivenessServiceClient {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewLivenessServiceClient(conn)
}

func grayFrame() *Frame {
	return &Frame{
		Data:   bytes.Repeat([]byte{128}, 640*480*3/2),
		Width:  640,
		Height: 480,
		Format: "nv21",
	}
}

var livenessModels = []iface.ModelConfig{
	{Name: "2.7_80x80_MiniFASNetV2", Scale: 2.7, Width: 80, Height: 80},
	{Name: "4_0_0_80x80_MiniFASNetV1SE", Scale: 4, Width: 80, Height: 80},
}

func TestMockEngine(t *testing.T) {
	srv, lis := newTestServer(t)
	gs := NewGRPCServer(srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	client := dial(t, lis)
	ctx := context.Background()

	created, err := client.CreateEngine(ctx, &CreateEngineRequest{Description: "mock_worker"})
	require.NoError(t, err)
	require.True(t, created.Success)
	id := created.Id
	require.NotEmpty(t, id)

	t.Run("Test Detect Before Load", func(t *testing.T) {
		resp, err := client.DetectFaces(ctx, &DetectFacesRequest{Id: id, Frame: grayFrame()})
		require.NoError(t, err)
		assert.Equal(t, int32(iface.StatusInvalidHandle), resp.Status)
		assert.NotNil(t, resp.Faces)
		assert.Empty(t, resp.Faces)
		assert.ErrorIs(t, resp.Err(), iface.ErrInvalidHandle)
	})

	t.Run("Test Load Models", func(t *testing.T) {
		resp, err := client.LoadFaceModel(ctx, &LoadFaceModelRequest{
			Id:     id,
			Config: iface.DetectorConfig{ModelPath: "face.onnx", Decoder: engine.DecoderNative},
		})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Message)
		assert.Nil(t, resp.FailedIndex)

		resp, err = client.LoadLivenessModels(ctx, &LoadLivenessModelsRequest{Id: id, Models: livenessModels})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Message)
	})

	face := iface.FaceBox{Left: 160, Top: 120, Right: 320, Bottom: 240, Confidence: 0.9}

	t.Run("Test DetectFaces", func(t *testing.T) {
		resp, err := client.DetectFaces(ctx, &DetectFacesRequest{Id: id, Frame: grayFrame()})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Message)
		require.Len(t, resp.Faces, 1)
		assert.Equal(t, face, resp.Faces[0])
	})

	t.Run("Test ScoreLiveness", func(t *testing.T) {
		resp, err := client.ScoreLiveness(ctx, &ScoreLivenessRequest{Id: id, Frame: grayFrame(), Face: face})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Message)
		assert.InDelta(t, 0.858149, resp.Score, 1e-5)
		assert.Equal(t, engine.VerdictProbablyLive, resp.Verdict)

		resp, err = client.ScoreLiveness(ctx, &ScoreLivenessRequest{Id: id, Frame: grayFrame(), Face: iface.FaceBox{Left: 5, Top: 5, Right: 5, Bottom: 9}})
		require.NoError(t, err)
		assert.Equal(t, int32(iface.StatusInvalidBox), resp.Status)
		assert.Equal(t, iface.SentinelScore, resp.Score)
		assert.Equal(t, engine.VerdictUnknown, resp.Verdict)
	})

	t.Run("Test Analyze", func(t *testing.T) {
		resp, err := client.Analyze(ctx, &AnalyzeRequest{Id: id, Frame: grayFrame()})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Message)
		require.Len(t, resp.Faces, 1)
		assert.Equal(t, face, resp.Faces[0].Face)
		assert.InDelta(t, 0.858149, resp.Faces[0].Score, 1e-5)
		assert.Equal(t, iface.StatusOK, resp.Faces[0].Status)
	})

	t.Run("Test Invalid Frame", func(t *testing.T) {
		resp, err := client.DetectFaces(ctx, &DetectFacesRequest{Id: id, Frame: &Frame{Width: 3, Height: 3, Format: "nv21"}})
		require.NoError(t, err)
		assert.Equal(t, int32(iface.StatusInvalidFrame), resp.Status)

		resp, err = client.DetectFaces(ctx, &DetectFacesRequest{Id: id})
		require.NoError(t, err)
		assert.Equal(t, int32(iface.StatusInvalidFrame), resp.Status)
	})

	t.Run("Test CheckEngine", func(t *testing.T) {
		resp, err := client.CheckEngine(ctx, &EngineRequest{Id: id})
		require.NoError(t, err)
		require.Len(t, resp.Engines, 1)
		info := resp.Engines[0]
		assert.Equal(t, "mock_worker", info.Description)
		assert.Equal(t, "ready", info.State)
		assert.Equal(t, "face.onnx", info.DetectorModel)
		assert.Len(t, info.LivenessModels, 2)
	})

	t.Run("Test Partial Liveness Load", func(t *testing.T) {
		other, err := client.CreateEngine(ctx, &CreateEngineRequest{Description: "partial"})
		require.NoError(t, err)
		models := append([]iface.ModelConfig{livenessModels[0]}, iface.ModelConfig{Name: "broken", Scale: 1, Width: 80, Height: 80})
		resp, err := client.LoadLivenessModels(ctx, &LoadLivenessModelsRequest{Id: other.Id, Models: models})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, int32(iface.StatusModelLoad), resp.Status)
		require.NotNil(t, resp.FailedIndex)
		assert.Equal(t, 1, *resp.FailedIndex)
	})

	t.Run("Test CheckAllEngines", func(t *testing.T) {
		resp, err := client.CheckAllEngines(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Len(t, resp.Engines, 2)
	})

	t.Run("Test DestroyEngine", func(t *testing.T) {
		resp, err := client.DestroyEngine(ctx, &EngineRequest{Id: id})
		require.NoError(t, err)
		assert.True(t, resp.Success)

		resp, err = client.DestroyEngine(ctx, &EngineRequest{Id: id})
		require.NoError(t, err)
		assert.Equal(t, int32(iface.StatusInvalidHandle), resp.Status)

		detect, err := client.DetectFaces(ctx, &DetectFacesRequest{Id: id, Frame: grayFrame()})
		require.NoError(t, err)
		assert.Equal(t, int32(iface.StatusInvalidHandle), detect.Status)
	})
}

func TestUploadModel(t *testing.T) {
	srv, lis := newTestServer(t)
	gs := NewGRPCServer(srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	client := dial(t, lis)

	resp, err := client.UploadModel(context.Background(), "face.onnx", [][]byte{[]byte("we"), []byte("ights")})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, int64(7), resp.Size)
	data, err := os.ReadFile(resp.Path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	resp, err = client.UploadModel(context.Background(), "", [][]byte{[]byte("x")})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestShutdown(t *testing.T) {
	srv, lis := newTestServer(t)
	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), lis, srv) }()
	client := dial(t, lis)

	_, err := client.Shutdown(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after Shutdown")
	}
	// A second signal must not panic.
	_, err = srv.Shutdown(context.Background(), &emptypb.Empty{})
	assert.NoError(t, err)
}

func TestFrameView(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 2))))
	v, err := (&Frame{Image: buf.Bytes()}).View()
	require.NoError(t, err)
	assert.Equal(t, 4, v.Width)
	assert.Equal(t, 2, v.Height)

	_, err = (&Frame{Data: []byte{1}, Width: 2, Height: 2, Format: "yuyv"}).View()
	assert.ErrorIs(t, err, iface.ErrInvalidFrame)
}

func TestResultErr(t *testing.T) {
	assert.NoError(t, resultOf(nil, "ok").Err())
	err := resultOf(&iface.ModelLoadError{Index: 2, Name: "m", Err: errors.New("bad")}, "").Err()
	assert.ErrorIs(t, err, iface.ErrModelLoad)
}
