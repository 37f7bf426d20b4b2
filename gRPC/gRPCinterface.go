package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"sync"
	"time"

	"SpoofDetServer/engine"
	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"
	"SpoofDetServer/modelstore"
	"SpoofDetServer/monitor"
	"SpoofDetServer/worker"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Server implements LivenessServiceServer over an engine registry. Engine
// calls run on the worker pool.
type Server struct {
	registry *engine.Registry
	pool     *worker.Pool
	models   *modelstore.Store

	closeOnce    sync.Once
	CloseChannel chan struct{}
}

func NewServer(registry *engine.Registry, pool *worker.Pool, models *modelstore.Store) *Server {
	return &Server{
		registry:     registry,
		pool:         pool,
		models:       models,
		CloseChannel: make(chan struct{}),
	}
}

// call runs fn against the engine id on a worker. If the caller gives up
// first, the zero value is returned and fn's result is dropped.
func call[T any](ctx context.Context, s *Server, id string, fn func(e *engine.Engine) (T, error)) (T, error) {
	e, err := s.registry.Get(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return worker.Do(ctx, s.pool, func() (T, error) { return fn(e) })
}

func (s *Server) CreateEngine(ctx context.Context, req *CreateEngineRequest) (*CreateEngineResponse, error) {
	e, err := s.registry.Create(req.Description)
	if err != nil {
		return &CreateEngineResponse{Result: resultOf(err, "")}, nil
	}
	return &CreateEngineResponse{
		Result: resultOf(nil, "Successfully created engine"),
		Id:     e.ID(),
	}, nil
}

func (s *Server) LoadFaceModel(ctx context.Context, req *LoadFaceModelRequest) (*LoadModelResponse, error) {
	cfg := req.Config
	if s.models != nil {
		cfg.ModelPath = s.models.Resolve(cfg.ModelPath)
	}
	_, err := call(ctx, s, req.Id, func(e *engine.Engine) (struct{}, error) {
		return struct{}{}, e.LoadFaceModel(cfg)
	})
	return loadResult(err), nil
}

func (s *Server) LoadLivenessModels(ctx context.Context, req *LoadLivenessModelsRequest) (*LoadModelResponse, error) {
	_, err := call(ctx, s, req.Id, func(e *engine.Engine) (struct{}, error) {
		return struct{}{}, e.LoadLivenessModels(req.Models)
	})
	return loadResult(err), nil
}

func (s *Server) DetectFaces(ctx context.Context, req *DetectFacesRequest) (*DetectFacesResponse, error) {
	faces, err := call(ctx, s, req.Id, func(e *engine.Engine) ([]iface.FaceBox, error) {
		v, err := req.Frame.View()
		if err != nil {
			return nil, err
		}
		return e.DetectFaces(v)
	})
	if err != nil || faces == nil {
		faces = []iface.FaceBox{}
	}
	monitor.FacesDetected.Add(float64(len(faces)))
	return &DetectFacesResponse{Result: resultOf(err, ""), Faces: faces}, nil
}

func (s *Server) ScoreLiveness(ctx context.Context, req *ScoreLivenessRequest) (*ScoreLivenessResponse, error) {
	resp, err := call(ctx, s, req.Id, func(e *engine.Engine) (*ScoreLivenessResponse, error) {
		v, err := req.Frame.View()
		if err != nil {
			return nil, err
		}
		score, err := e.ScoreLiveness(v, req.Face)
		return &ScoreLivenessResponse{Score: score, Verdict: e.Classify(score)}, err
	})
	if err != nil {
		resp = &ScoreLivenessResponse{Score: iface.SentinelScore, Verdict: engine.VerdictUnknown}
	}
	resp.Result = resultOf(err, "")
	return resp, nil
}

func (s *Server) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	results, err := call(ctx, s, req.Id, func(e *engine.Engine) ([]engine.FaceResult, error) {
		v, err := req.Frame.View()
		if err != nil {
			return nil, err
		}
		return e.Analyze(v)
	})
	if err != nil || results == nil {
		results = []engine.FaceResult{}
	}
	monitor.FacesDetected.Add(float64(len(results)))
	return &AnalyzeResponse{Result: resultOf(err, ""), Faces: results}, nil
}

func (s *Server) DestroyEngine(ctx context.Context, req *EngineRequest) (*StatusResponse, error) {
	err := s.registry.Destroy(req.Id)
	if err != nil {
		logger.Log().Warn("destroy engine failed", zap.String("ID", req.Id), zap.Error(err))
	}
	return &StatusResponse{Result: resultOf(err, "Engine destroyed successfully")}, nil
}

func (s *Server) CheckEngine(ctx context.Context, req *EngineRequest) (*CheckAllEnginesResponse, error) {
	e, err := s.registry.Get(req.Id)
	if err != nil {
		return &CheckAllEnginesResponse{Result: resultOf(err, ""), Engines: []iface.EngineInfo{}}, nil
	}
	return &CheckAllEnginesResponse{
		Result:  resultOf(nil, "Engine status retrieved successfully"),
		Engines: []iface.EngineInfo{e.Info()},
	}, nil
}

func (s *Server) CheckAllEngines(ctx context.Context, _ *emptypb.Empty) (*CheckAllEnginesResponse, error) {
	return &CheckAllEnginesResponse{
		Result:  resultOf(nil, "All engines status retrieved successfully"),
		Engines: s.registry.List(),
	}, nil
}

// Shutdown signals CloseChannel. The owner of the server stops the listeners
// and releases the engines.
func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.closeOnce.Do(func() {
		logger.Log().Warn("shutdown requested over gRPC")
		close(s.CloseChannel)
	})
	return &emptypb.Empty{}, nil
}

func (s *Server) UploadModel(stream grpc.ServerStream) error {
	start := time.Now()
	var w *modelstore.Writer
	err := func() error {
		for {
			var chunk UploadChunk
			err := stream.RecvMsg(&chunk)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if w == nil {
				if s.models == nil {
					return errors.New("model uploads are disabled")
				}
				if chunk.Name == "" {
					return errors.New("file name cannot be empty, send it with the first chunk")
				}
				if w, err = s.models.Create(path.Base(chunk.Name)); err != nil {
					return err
				}
			}
			if _, err := w.Write(chunk.Data); err != nil {
				return fmt.Errorf("failed to write chunk data: %w", err)
			}
		}
		if w == nil {
			return errors.New("empty upload")
		}
		return w.Commit()
	}()
	monitor.Observe("grpc", "UploadModel", start, err)
	if err != nil {
		if w != nil {
			w.Abort()
		}
		logger.Log().Error("model upload failed", zap.Error(err))
		return stream.SendMsg(&UploadModelResponse{Result: Result{
			Status:     int32(iface.StatusModelLoad),
			StatusName: iface.StatusModelLoad.String(),
			Message:    err.Error(),
		}})
	}
	logger.Log().Info("model uploaded", zap.String("path", w.Path()), zap.Int64("size", w.Size()))
	return stream.SendMsg(&UploadModelResponse{
		Result: resultOf(nil, "File uploaded successfully"),
		Path:   w.Path(),
		Size:   w.Size(),
	})
}

// observe records every unary call under its method name and the status the
// response carries.
func observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	op := path.Base(info.FullMethod)
	callErr := err
	if r, ok := resp.(interface{ Err() error }); ok && err == nil {
		callErr = r.Err()
	}
	monitor.Observe("grpc", op, start, callErr)
	if callErr != nil {
		logger.Log().Debug("grpc call failed", zap.String("method", op), zap.Error(callErr))
	}
	return resp, err
}

// NewGRPCServer registers srv on a new grpc.Server.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(observe)}, opts...)
	s := grpc.NewServer(opts...)
	RegisterLivenessServiceServer(s, srv)
	return s
}

// StartGRPCServer serves on port until ctx is cancelled or Shutdown is
// called, then stops gracefully.
func StartGRPCServer(ctx context.Context, port int, srv *Server) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return Serve(ctx, lis, srv)
}

func Serve(ctx context.Context, lis net.Listener, srv *Server) error {
	s := NewGRPCServer(srv)
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.Serve(lis)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-srv.CloseChannel:
	}
	s.GracefulStop()
	return <-errCh
}
