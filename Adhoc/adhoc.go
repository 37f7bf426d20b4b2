package Adhoc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SpoofDetServer/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DmlInstance    = 0x2001
	CpuInstance    = 0x2002
	CudaInstance   = 0x2003
	RocmInstance   = 0x2004
	TimeOutSeconds = 5
)

// ParseInstanceClass maps the config name onto an instance class. Unknown
// names fall back to CpuInstance.
func ParseInstanceClass(name string) (int, bool) {
	switch strings.ToLower(name) {
	case "dml":
		return DmlInstance, true
	case "cuda":
		return CudaInstance, true
	case "rocm":
		return RocmInstance, true
	case "cpu":
		return CpuInstance, true
	}
	return CpuInstance, false
}

type RegisterRequest struct {
	Id            string `json:"id"`
	Service       string `json:"service"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	HTTPPort      int    `json:"httpPort"`
	InstanceClass int    `json:"instanceClass"`
	Engines       int    `json:"engines"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// RegServerConfig is the regServer section of config.yaml.
type RegServerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	InstanceClass string `yaml:"instanceClass"`
	// IntervalSeconds defaults to TimeOutSeconds.
	IntervalSeconds int `yaml:"intervalSeconds"`
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Host = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Host, reg.Port)
}

func (reg RegServerConfig) interval() time.Duration {
	if reg.IntervalSeconds > 0 {
		return time.Duration(reg.IntervalSeconds) * time.Second
	}
	return TimeOutSeconds * time.Second
}

// Heartbeat announces this node to the registration server.
type Heartbeat struct {
	cfg      RegServerConfig
	client   *resty.Client
	id       string
	ip       string
	rpcPort  int
	httpPort int
	class    int

	// Engines, if set, reports the current engine count in every beat.
	Engines func() int
}

func NewHeartbeat(cfg RegServerConfig, ip string, rpcPort, httpPort int) *Heartbeat {
	class, ok := ParseInstanceClass(cfg.InstanceClass)
	if !ok && cfg.InstanceClass != "" {
		logger.Log().Warn("invalid instanceClass, defaulting to Cpu", zap.String("instanceClass", cfg.InstanceClass))
	}
	return &Heartbeat{
		cfg:      cfg,
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
		id:       uuid.NewString(),
		ip:       ip,
		rpcPort:  rpcPort,
		httpPort: httpPort,
		class:    class,
	}
}

func (h *Heartbeat) ID() string {
	return h.id
}

// Beat sends one registration request.
func (h *Heartbeat) Beat(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat panic: %v", r)
		}
	}()
	req := RegisterRequest{
		Id:            h.id,
		Service:       "spoofdet",
		IP:            h.ip,
		Port:          h.rpcPort,
		HTTPPort:      h.httpPort,
		InstanceClass: h.class,
		TimeStamp:     time.Now().Unix(),
	}
	if h.Engines != nil {
		req.Engines = h.Engines()
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&respBody).
		Post(h.cfg.URL())
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("register: server returned %s: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("register: rejected by server")
	}
	return nil
}

// SendAliveMessage beats immediately and then on every interval until ctx is
// cancelled. Failed beats are logged and retried on the next tick.
func (h *Heartbeat) SendAliveMessage(ctx context.Context) error {
	log := logger.Log().With(zap.String("regServer", h.cfg.URL()), zap.String("id", h.id))
	ticker := time.NewTicker(h.cfg.interval())
	defer ticker.Stop()
	for {
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			log.Error("heartbeat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("heartbeat stopped")
			return nil
		case <-ticker.C:
		}
	}
}
