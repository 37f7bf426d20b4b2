// Package client talks to the HTTP API of a running server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"SpoofDetServer/engine"
	proto "SpoofDetServer/gRPC"
	iface "SpoofDetServer/interface"

	"github.com/go-resty/resty/v2"
)

type envelope[T any] struct {
	Status     int32  `json:"status"`
	StatusName string `json:"status_name"`
	Error      string `json:"error"`
	Data       T      `json:"data"`
}

type Client struct {
	r *resty.Client
}

func New(baseURL string) *Client {
	return &Client{r: resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second)}
}

// do sends req and unwraps the response envelope. Engine failures come back
// as the matching iface sentinel.
func do[T any](ctx context.Context, req *resty.Request, method, url string) (T, error) {
	var env envelope[T]
	resp, err := req.SetContext(ctx).SetResult(&env).SetError(&env).Execute(method, url)
	if err != nil {
		return env.Data, err
	}
	if env.Status != int32(iface.StatusOK) {
		return env.Data, fmt.Errorf("%w: %s", iface.Status(env.Status).Err(), env.Error)
	}
	if resp.IsError() {
		msg := env.Error
		if msg == "" {
			msg = resp.String()
		}
		return env.Data, fmt.Errorf("%s %s: %s: %s", method, url, resp.Status(), msg)
	}
	return env.Data, nil
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.r.R().SetContext(ctx).Get("/api/ping")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ping: %s", resp.Status())
	}
	return nil
}

type created struct {
	Id string `json:"id"`
}

func (c *Client) CreateEngine(ctx context.Context, description string) (string, error) {
	body := proto.CreateEngineRequest{Description: description}
	out, err := do[created](ctx, c.r.R().SetBody(body), http.MethodPost, "/api/engines")
	return out.Id, err
}

func (c *Client) Engines(ctx context.Context) ([]iface.EngineInfo, error) {
	return do[[]iface.EngineInfo](ctx, c.r.R(), http.MethodGet, "/api/engines")
}

func (c *Client) Engine(ctx context.Context, id string) (iface.EngineInfo, error) {
	return do[iface.EngineInfo](ctx, c.r.R().SetPathParam("id", id), http.MethodGet, "/api/engines/{id}")
}

func (c *Client) DestroyEngine(ctx context.Context, id string) error {
	_, err := do[any](ctx, c.r.R().SetPathParam("id", id), http.MethodDelete, "/api/engines/{id}")
	return err
}

type loadData struct {
	FailedIndex *int `json:"failed_index"`
}

// loadError restores the failing index of a model load.
func loadError(data *loadData, err error) error {
	if err == nil || data == nil || data.FailedIndex == nil {
		return err
	}
	return &iface.ModelLoadError{Index: *data.FailedIndex, Err: err}
}

func (c *Client) LoadFaceModel(ctx context.Context, id string, cfg iface.DetectorConfig) error {
	data, err := do[*loadData](ctx, c.r.R().SetPathParam("id", id).SetBody(cfg), http.MethodPost, "/api/engines/{id}/face-model")
	return loadError(data, err)
}

func (c *Client) LoadLivenessModels(ctx context.Context, id string, models []iface.ModelConfig) error {
	body := proto.LoadLivenessModelsRequest{Id: id, Models: models}
	data, err := do[*loadData](ctx, c.r.R().SetPathParam("id", id).SetBody(body), http.MethodPost, "/api/engines/{id}/liveness-models")
	return loadError(data, err)
}

func (c *Client) DetectFaces(ctx context.Context, id string, f *proto.Frame) ([]iface.FaceBox, error) {
	return do[[]iface.FaceBox](ctx, c.r.R().SetPathParam("id", id).SetBody(f), http.MethodPost, "/api/engines/{id}/detect")
}

type Score struct {
	Score   float32        `json:"score"`
	Verdict engine.Verdict `json:"verdict"`
}

func (c *Client) ScoreLiveness(ctx context.Context, id string, f *proto.Frame, face iface.FaceBox) (Score, error) {
	body := proto.ScoreLivenessRequest{Id: id, Frame: f, Face: face}
	out, err := do[Score](ctx, c.r.R().SetPathParam("id", id).SetBody(body), http.MethodPost, "/api/engines/{id}/score")
	if err != nil {
		out.Score = iface.SentinelScore
		out.Verdict = engine.VerdictUnknown
	}
	return out, err
}

func (c *Client) Analyze(ctx context.Context, id string, f *proto.Frame) ([]engine.FaceResult, error) {
	return do[[]engine.FaceResult](ctx, c.r.R().SetPathParam("id", id).SetBody(f), http.MethodPost, "/api/engines/{id}/analyze")
}

// AnalyzeImage uploads a compressed image (JPEG, PNG, ...).
func (c *Client) AnalyzeImage(ctx context.Context, id string, image []byte) ([]engine.FaceResult, error) {
	req := c.r.R().
		SetPathParam("id", id).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(image)
	return do[[]engine.FaceResult](ctx, req, http.MethodPost, "/api/engines/{id}/image")
}

type Upload struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// UploadModel sends the local file at path to the server's model directory.
func (c *Client) UploadModel(ctx context.Context, path string) (Upload, error) {
	return do[Upload](ctx, c.r.R().SetFile("file", path), http.MethodPost, "/api/models/upload")
}

func (c *Client) Models(ctx context.Context) ([]string, error) {
	return do[[]string](ctx, c.r.R(), http.MethodGet, "/api/models")
}
