package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"SpoofDetServer/backend"
	"SpoofDetServer/engine"
	"SpoofDetServer/frame"
	"SpoofDetServer/modelstore"

	"github.com/spf13/cobra"
)

type imageResult struct {
	Image string              `json:"image"`
	Faces []engine.FaceResult `json:"faces"`
	Error string              `json:"error,omitempty"`
}

var detectCmd = &cobra.Command{
	Use:   "detect IMAGE...",
	Short: "Analyze local images with the configured models",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newBackend, err := backend.New(cfg.Backend)
		if err != nil {
			return err
		}
		models, err := modelstore.New(cfg.Path(cfg.ModelDir))
		if err != nil {
			return err
		}
		e, err := engine.New(newBackend, append(engineOptions(cfg, models), engine.WithDescription("cli"))...)
		if err != nil {
			return err
		}
		defer e.Destroy()
		ok, err := loadConfigured(e, cfg, models)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no detector or liveness models configured")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		var failed int
		for _, path := range args {
			out := imageResult{Image: path, Faces: []engine.FaceResult{}}
			if faces, err := analyzeFile(e, path); err != nil {
				out.Error = err.Error()
				failed++
			} else {
				out.Faces = faces
			}
			if err := enc.Encode(out); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(args))
		}
		return nil
	},
}

func analyzeFile(e *engine.Engine, path string) ([]engine.FaceResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	v, err := frame.Decode(f)
	if err != nil {
		return nil, err
	}
	return e.Analyze(v)
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
