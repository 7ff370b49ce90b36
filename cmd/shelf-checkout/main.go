package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	shelfcheckout "github.com/menta2k/shelf-checkout"
	"github.com/menta2k/shelf-checkout/internal/config"
	"github.com/menta2k/shelf-checkout/internal/logging"
	"github.com/menta2k/shelf-checkout/internal/server"
	"github.com/menta2k/shelf-checkout/internal/utils"
	"github.com/menta2k/shelf-checkout/pkg/detection"
	"github.com/menta2k/shelf-checkout/pkg/processing"
)

const (
	flagConfig  = "config"
	flagDebug   = "debug"
	flagBackend = "backend"
	flagURL     = "url"
	flagModel   = "model"
	flagAddr    = "addr"
	flagIn      = "in"
	flagOut     = "out"
	flagPath    = "path"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	var logger *zap.Logger

	detectorFlags := []cli.Flag{
		&cli.StringFlag{Name: flagBackend, Usage: "detector backend: owlv2, ollama or llamacpp"},
		&cli.StringFlag{Name: flagURL, Usage: "detector server URL"},
		&cli.StringFlag{Name: flagModel, Usage: "detector model name"},
	}

	return &cli.App{
		Name:    "shelf-checkout",
		Usage:   "price a basket of retail items from a photo",
		Version: shelfcheckout.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			logger, err = logging.NewLogger(c.Bool(flagDebug))
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the web checkout",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagAddr, Usage: "listen address, e.g. :5000"},
				}, detectorFlags...),
				Action: func(c *cli.Context) error {
					return serve(c, logger)
				},
			},
			{
				Name:      "scan",
				Usage:     "check out a single photo",
				ArgsUsage: "--in basket.jpg",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "input image path or URL (jpg/png/webp)"},
					&cli.StringFlag{Name: flagOut, Value: "out", Usage: "output directory"},
				}, detectorFlags...),
				Action: func(c *cli.Context) error {
					return scan(c, logger)
				},
			},
			{
				Name:  "check",
				Usage: "check that the detector is reachable",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagIn, Usage: "image path or URL for the model to describe (ollama and llamacpp only)"},
				}, detectorFlags...),
				Action: func(c *cli.Context) error {
					return check(c, logger)
				},
			},
			{
				Name:  "config",
				Usage: "manage the configuration file",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "write the default configuration",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: flagPath, Usage: "destination `FILE` (defaults to the user config dir)"},
						},
						Action: configInit,
					},
				},
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, shelfcheckout.Version)
					return nil
				},
			},
		},
	}
}

// loadConfig reads --config, falls back to the user config file and then to defaults
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	if v := c.String(flagBackend); v != "" {
		cfg.Detector.Backend = v
	}
	if v := c.String(flagURL); v != "" {
		cfg.Detector.URL = v
	}
	if v := c.String(flagModel); v != "" {
		cfg.Detector.Model = v
	}
	return cfg, cfg.Validate()
}

func serve(c *cli.Context, logger *zap.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String(flagAddr); v != "" {
		cfg.Server.Addr = v
	}

	checkout, err := shelfcheckout.NewFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No point accepting uploads the model cannot serve
	if err := checkout.CheckHealth(ctx); err != nil {
		return errors.Wrapf(err, "%s backend at %s", cfg.Detector.Backend, cfg.Detector.URL)
	}
	logger.Info("detector ready", zap.String("backend", cfg.Detector.Backend), zap.String("url", cfg.Detector.URL))

	srv, err := server.New(checkout, cfg.Server, cfg.Output, logger.Named("server"))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func scan(c *cli.Context, logger *zap.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	checkout, err := shelfcheckout.NewFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	outDir := c.String(flagOut)
	if err := utils.EnsureDir(outDir); err != nil {
		return err
	}

	processor := processing.NewProcessor()
	in := c.String(flagIn)
	img, err := processor.LoadImageSmart(in)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	result, err := checkout.Process(ctx, processor.ToRGB(img))
	if err != nil {
		return err
	}

	outPath := utils.GenerateOutputFilename(in, outDir, "", "_annotated", processing.Extension(cfg.Output.Format))
	if err := processor.SaveImage(result.Annotated, outPath, cfg.Output.Format, cfg.Output.Quality, false); err != nil {
		return errors.Wrap(err, "save annotated image")
	}

	js, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	receiptPath := filepath.Join(outDir, "receipt.json")
	if err := os.WriteFile(receiptPath, js, 0o644); err != nil {
		return errors.Wrap(err, "write receipt")
	}

	w := c.App.Writer
	for _, line := range result.Receipt.Lines {
		fmt.Fprintf(w, "%-24s x%d  %8s\n", line.Label, line.Count, line.LineTotal)
	}
	fmt.Fprintf(w, "%-24s     %8s\n", "TOTAL", result.Receipt.Total)
	fmt.Fprintf(w, "processed in %.2fs, wrote %s and %s\n", result.Elapsed.Seconds(), outPath, receiptPath)
	return nil
}

// check probes the backend and, given --in, asks a chat model to describe
// the image so a model without vision support shows up before a checkout
func check(c *cli.Context, logger *zap.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	backend, err := shelfcheckout.NewBackend(cfg.Detector, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	if err := backend.CheckHealth(ctx); err != nil {
		return errors.Wrapf(err, "%s backend at %s", cfg.Detector.Backend, cfg.Detector.URL)
	}
	w := c.App.Writer
	fmt.Fprintf(w, "%s backend at %s is reachable\n", cfg.Detector.Backend, cfg.Detector.URL)

	in := c.String(flagIn)
	if in == "" {
		return nil
	}
	pd, ok := backend.(*detection.PromptDetector)
	if !ok {
		return errors.Errorf("--%s needs a chat backend (%s or %s), not %s",
			flagIn, config.BackendOllama, config.BackendLlamaCpp, cfg.Detector.Backend)
	}
	img, err := processing.NewProcessor().LoadImageSmart(in)
	if err != nil {
		return err
	}
	reply, err := pd.TestVision(ctx, img)
	if err != nil {
		return errors.Wrap(err, "describe image")
	}
	fmt.Fprintln(w, strings.TrimSpace(reply))
	return nil
}

func configInit(c *cli.Context) error {
	path := c.String(flagPath)
	if path == "" {
		path = config.GetConfigPath()
	}
	if utils.FileExists(path) {
		return errors.Errorf("%s already exists", path)
	}
	if err := config.Default().SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}
