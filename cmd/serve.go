package cmd

import (
	"context"
	"fmt"
	"net"
	"runtime"

	adhoc "SpoofDetServer/Adhoc"
	"SpoofDetServer/backend"
	"SpoofDetServer/config"
	"SpoofDetServer/engine"
	proto "SpoofDetServer/gRPC"
	"SpoofDetServer/httpapi"
	"SpoofDetServer/logger"
	"SpoofDetServer/modelstore"
	"SpoofDetServer/monitor"
	"SpoofDetServer/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var noPreload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC, HTTP and metrics servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noPreload, "no-preload", false, "do not create the default engine from the configured models")
	rootCmd.AddCommand(serveCmd)
}

// GetOutboundIP returns the local address used to reach the internet. The
// UDP dial only resolves a route and sends nothing.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func engineOptions(cfg config.Config, models *modelstore.Store) []engine.Option {
	return []engine.Option{
		engine.WithModelDir(models.Dir),
		engine.WithAggregation(cfg.Aggregation()),
		engine.WithThresholds(cfg.Liveness.Thresholds),
	}
}

// loadConfigured loads the detector and liveness models named in cfg into e.
// It reports false when cfg names neither.
func loadConfigured(e *engine.Engine, cfg config.Config, models *modelstore.Store) (bool, error) {
	livenessModels, err := cfg.LivenessModels()
	if err != nil {
		return false, err
	}
	if cfg.Detector.ModelPath == "" && len(livenessModels) == 0 {
		return false, nil
	}
	if cfg.Detector.ModelPath != "" {
		d := cfg.Detector
		d.ModelPath = models.Resolve(d.ModelPath)
		if d.ModelPath == cfg.Detector.ModelPath {
			d.ModelPath = cfg.Path(d.ModelPath)
		}
		if err := e.LoadFaceModel(d); err != nil {
			return true, err
		}
	}
	if len(livenessModels) > 0 {
		if err := e.LoadLivenessModels(livenessModels); err != nil {
			return true, err
		}
	}
	return true, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.Log()
	cpus := runtime.NumCPU()
	log.Info("starting",
		zap.String("version", Version),
		zap.Int("cpus", cpus),
		zap.Int("workers", cfg.WorkersNum),
		zap.String("backend", cfg.Backend.Kind),
		zap.Int("rpcPort", cfg.RPCPort),
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("monitorPort", cfg.MonitorPort))
	if cfg.WorkersNum > cpus {
		log.Warn("workersNum exceeds CPU cores, which may lead to performance degradation")
	}

	newBackend, err := backend.New(cfg.Backend)
	if err != nil {
		return err
	}
	models, err := modelstore.New(cfg.Path(cfg.ModelDir))
	if err != nil {
		return err
	}
	registry := engine.NewRegistry(newBackend, engineOptions(cfg, models)...)
	registry.OnChange = func(active int) { monitor.ActiveEngines.Set(float64(active)) }
	defer registry.DestroyAll()
	pool := worker.NewPool(cfg.WorkersNum)
	defer pool.Close()

	if !noPreload {
		if err := preload(registry, cfg, models); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rpc := proto.NewServer(registry, pool, models)
	api := httpapi.New(registry, pool, models)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-rpc.CloseChannel:
			log.Info("shutdown requested over gRPC")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error { return proto.StartGRPCServer(gctx, cfg.RPCPort, rpc) })
	g.Go(func() error { return httpapi.Start(gctx, cfg.HTTPPort, api) })
	g.Go(func() error { return monitor.StartMon(gctx, cfg.MonitorPort) })

	if cfg.RegServer.Enabled {
		ip, err := GetOutboundIP()
		if err != nil {
			log.Warn("failed to get outbound IP, registering loopback", zap.Error(err))
			ip = "127.0.0.1"
		}
		hb := adhoc.NewHeartbeat(cfg.RegServer, ip, cfg.RPCPort, cfg.HTTPPort)
		hb.Engines = registry.Len
		log.Info("registering", zap.String("url", cfg.RegServer.URL()), zap.String("id", hb.ID()), zap.String("ip", ip))
		g.Go(func() error { return hb.SendAliveMessage(gctx) })
	} else {
		log.Info("regServer disabled, skipping registration")
	}

	err = g.Wait()
	log.Info("stopped", zap.Error(err))
	return err
}

// preload creates the "default" engine from the models in cfg.
func preload(registry *engine.Registry, cfg config.Config, models *modelstore.Store) error {
	e, err := registry.Create("default")
	if err != nil {
		return err
	}
	ok, err := loadConfigured(e, cfg, models)
	if err != nil {
		_ = registry.Destroy(e.ID())
		return fmt.Errorf("preload default engine: %w", err)
	}
	if !ok {
		_ = registry.Destroy(e.ID())
		return nil
	}
	logger.Log().Info("default engine ready", zap.String("id", e.ID()))
	return nil
}
