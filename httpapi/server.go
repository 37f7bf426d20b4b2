// Package httpapi exposes the engine registry over REST and websockets.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"SpoofDetServer/engine"
	"SpoofDetServer/frame"
	proto "SpoofDetServer/gRPC"
	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"
	"SpoofDetServer/modelstore"
	"SpoofDetServer/monitor"
	"SpoofDetServer/worker"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MaxImageBytes bounds uploaded images and streamed frames.
const MaxImageBytes = 20 << 20

type Server struct {
	registry *engine.Registry
	pool     *worker.Pool
	models   *modelstore.Store
	router   *gin.Engine
	upgrader websocket.Upgrader

	dropped atomic.Int64
}

func New(registry *engine.Registry, pool *worker.Pool, models *modelstore.Store) *Server {
	s := &Server{
		registry: registry,
		pool:     pool,
		models:   models,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = MaxImageBytes

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(monitor.Handler()))

	api := r.Group("/api/engines")
	api.POST("", s.createEngine)
	api.GET("", s.listEngines)
	api.GET("/:id", s.checkEngine)
	api.DELETE("/:id", s.destroyEngine)
	api.POST("/:id/face-model", s.loadFaceModel)
	api.POST("/:id/liveness-models", s.loadLivenessModels)
	api.POST("/:id/detect", s.detectFaces)
	api.POST("/:id/score", s.scoreLiveness)
	api.POST("/:id/analyze", s.analyze)
	api.POST("/:id/image", s.analyzeImage)

	r.GET("/api/models", s.listModels)
	r.POST("/api/models/upload", s.uploadModel)
	r.GET("/ws/:id", s.stream)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" {
			return
		}
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("code", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}

// httpStatus maps an engine status onto the response code.
func httpStatus(st iface.Status) int {
	switch st {
	case iface.StatusOK:
		return http.StatusOK
	case iface.StatusInvalidHandle:
		return http.StatusNotFound
	case iface.StatusInvalidFrame, iface.StatusInvalidBox:
		return http.StatusBadRequest
	case iface.StatusModelLoad:
		return http.StatusUnprocessableEntity
	case iface.StatusNotLoaded:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// reply writes the envelope shared by every engine route. data is sent on
// failure too, so callers still get the empty face list or sentinel score.
func reply(c *gin.Context, op string, start time.Time, data any, err error) {
	monitor.Observe("http", op, start, err)
	st := iface.StatusOf(err)
	body := gin.H{"status": int32(st), "status_name": st.String(), "data": data}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(httpStatus(st), body)
}

func badRequest(c *gin.Context, op string, start time.Time, err error) {
	monitor.Observe("http", op, start, err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func call[T any](ctx context.Context, s *Server, id string, fn func(e *engine.Engine) (T, error)) (T, error) {
	e, err := s.registry.Get(id)
	if err != nil {
		var zero T
		return zero, err
	}
	return worker.Do(ctx, s.pool, func() (T, error) { return fn(e) })
}

func (s *Server) createEngine(c *gin.Context) {
	start := time.Now()
	var req proto.CreateEngineRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "CreateEngine", start, err)
			return
		}
	}
	e, err := s.registry.Create(req.Description)
	if err != nil {
		reply(c, "CreateEngine", start, nil, err)
		return
	}
	reply(c, "CreateEngine", start, gin.H{"id": e.ID()}, nil)
}

func (s *Server) listEngines(c *gin.Context) {
	reply(c, "CheckAllEngines", time.Now(), s.registry.List(), nil)
}

func (s *Server) checkEngine(c *gin.Context) {
	start := time.Now()
	e, err := s.registry.Get(c.Param("id"))
	if err != nil {
		reply(c, "CheckEngine", start, nil, err)
		return
	}
	reply(c, "CheckEngine", start, e.Info(), nil)
}

func (s *Server) destroyEngine(c *gin.Context) {
	reply(c, "DestroyEngine", time.Now(), nil, s.registry.Destroy(c.Param("id")))
}

func loadData(err error) gin.H {
	var mle *iface.ModelLoadError
	if errors.As(err, &mle) {
		return gin.H{"failed_index": mle.Index}
	}
	return nil
}

func (s *Server) loadFaceModel(c *gin.Context) {
	start := time.Now()
	var cfg iface.DetectorConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "LoadFaceModel", start, err)
		return
	}
	if s.models != nil {
		cfg.ModelPath = s.models.Resolve(cfg.ModelPath)
	}
	_, err := call(c.Request.Context(), s, c.Param("id"), func(e *engine.Engine) (struct{}, error) {
		return struct{}{}, e.LoadFaceModel(cfg)
	})
	reply(c, "LoadFaceModel", start, loadData(err), err)
}

func (s *Server) loadLivenessModels(c *gin.Context) {
	start := time.Now()
	var req proto.LoadLivenessModelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "LoadLivenessModels", start, err)
		return
	}
	_, err := call(c.Request.Context(), s, c.Param("id"), func(e *engine.Engine) (struct{}, error) {
		return struct{}{}, e.LoadLivenessModels(req.Models)
	})
	reply(c, "LoadLivenessModels", start, loadData(err), err)
}

func (s *Server) detectFaces(c *gin.Context) {
	start := time.Now()
	var f proto.Frame
	if err := c.ShouldBindJSON(&f); err != nil {
		badRequest(c, "DetectFaces", start, err)
		return
	}
	faces, err := call(c.Request.Context(), s, c.Param("id"), func(e *engine.Engine) ([]iface.FaceBox, error) {
		v, err := f.View()
		if err != nil {
			return nil, err
		}
		return e.DetectFaces(v)
	})
	if err != nil || faces == nil {
		faces = []iface.FaceBox{}
	}
	monitor.FacesDetected.Add(float64(len(faces)))
	reply(c, "DetectFaces", start, faces, err)
}

type scoreData struct {
	Score   float32        `json:"score"`
	Verdict engine.Verdict `json:"verdict"`
}

func (s *Server) scoreLiveness(c *gin.Context) {
	start := time.Now()
	var req proto.ScoreLivenessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ScoreLiveness", start, err)
		return
	}
	out, err := call(c.Request.Context(), s, c.Param("id"), func(e *engine.Engine) (scoreData, error) {
		v, err := req.Frame.View()
		if err != nil {
			return scoreData{}, err
		}
		score, err := e.ScoreLiveness(v, req.Face)
		return scoreData{Score: score, Verdict: e.Classify(score)}, err
	})
	if err != nil {
		out = scoreData{Score: iface.SentinelScore, Verdict: engine.VerdictUnknown}
	}
	reply(c, "ScoreLiveness", start, out, err)
}

func (s *Server) analyzeView(ctx context.Context, id string, view func() (frame.View, error)) ([]engine.FaceResult, error) {
	results, err := call(ctx, s, id, func(e *engine.Engine) ([]engine.FaceResult, error) {
		v, err := view()
		if err != nil {
			return nil, err
		}
		return e.Analyze(v)
	})
	if err != nil || results == nil {
		results = []engine.FaceResult{}
	}
	monitor.FacesDetected.Add(float64(len(results)))
	return results, err
}

func (s *Server) analyze(c *gin.Context) {
	start := time.Now()
	var f proto.Frame
	if err := c.ShouldBindJSON(&f); err != nil {
		badRequest(c, "Analyze", start, err)
		return
	}
	results, err := s.analyzeView(c.Request.Context(), c.Param("id"), f.View)
	reply(c, "Analyze", start, results, err)
}

// analyzeImage takes a compressed image either as the multipart field
// "image" or as the raw request body.
func (s *Server) analyzeImage(c *gin.Context) {
	start := time.Now()
	var data []byte
	if fh, err := c.FormFile("image"); err == nil {
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "AnalyzeImage", start, err)
			return
		}
		defer f.Close()
		data, err = io.ReadAll(io.LimitReader(f, MaxImageBytes))
		if err != nil {
			badRequest(c, "AnalyzeImage", start, err)
			return
		}
	} else {
		var err error
		data, err = io.ReadAll(io.LimitReader(c.Request.Body, MaxImageBytes))
		if err != nil {
			badRequest(c, "AnalyzeImage", start, err)
			return
		}
	}
	results, err := s.analyzeView(c.Request.Context(), c.Param("id"), func() (frame.View, error) {
		return frame.DecodeBytes(data)
	})
	reply(c, "AnalyzeImage", start, results, err)
}

func (s *Server) listModels(c *gin.Context) {
	names, err := s.models.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": names})
}

func (s *Server) uploadModel(c *gin.Context) {
	start := time.Now()
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "UploadModel", start, fmt.Errorf("file upload failed: %w", err))
		return
	}
	f, err := file.Open()
	if err != nil {
		badRequest(c, "UploadModel", start, err)
		return
	}
	defer f.Close()
	path, size, err := s.models.Save(file.Filename, f)
	if errors.Is(err, modelstore.ErrBadName) {
		badRequest(c, "UploadModel", start, err)
		return
	}
	monitor.Observe("http", "UploadModel", start, err)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
		return
	}
	logger.Log().Info("model uploaded", zap.String("path", path), zap.Int64("size", size))
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"path": path, "size": size}})
}

// Start serves the API on port until ctx is cancelled.
func Start(ctx context.Context, port int, s *Server) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("HTTP server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
