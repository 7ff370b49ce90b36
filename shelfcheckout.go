// Package shelfcheckout turns a photo of retail items into a priced receipt
// and an annotated image.
//
// A Checkout wires together four stages:
//
//  1. Detection (pkg/detection): a zero-shot detector proposes boxes for the
//     catalog labels.
//  2. Reduction (pkg/reduction): detections below the confidence threshold are
//     dropped and each label keeps only its highest scoring box.
//  3. Pricing (pkg/pricing): every surviving label is charged once at its
//     catalog price.
//  4. Annotation (pkg/annotate): boxes and "label: score" captions are drawn
//     on a copy of the image.
//
// Basic usage:
//
//	backend, _ := owlv2.NewClient(owlv2.Config{BaseURL: "http://localhost:8000"})
//	co := shelfcheckout.New(backend, pricing.MustCatalog(pricing.DefaultEntries()))
//
//	f, _ := os.Open("basket.jpg")
//	defer f.Close()
//
//	result, err := co.ProcessReader(ctx, f)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Total: %s\n", result.Receipt.Total)
//
// The core is synchronous and holds no per-request state, so a Checkout can
// be shared between goroutines. Bounding how many inferences run at once is
// left to the caller.
package shelfcheckout

import (
	"context"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/shelf-checkout/internal/config"
	"github.com/menta2k/shelf-checkout/pkg/annotate"
	"github.com/menta2k/shelf-checkout/pkg/client"
	"github.com/menta2k/shelf-checkout/pkg/detection"
	"github.com/menta2k/shelf-checkout/pkg/llamacpp"
	"github.com/menta2k/shelf-checkout/pkg/ollama"
	"github.com/menta2k/shelf-checkout/pkg/owlv2"
	"github.com/menta2k/shelf-checkout/pkg/pricing"
	"github.com/menta2k/shelf-checkout/pkg/processing"
	"github.com/menta2k/shelf-checkout/pkg/reduction"
	"github.com/menta2k/shelf-checkout/pkg/types"
)

// Version of the shelf checkout library
const Version = "1.0.0"

// Result is the outcome of one checkout
type Result struct {
	Decisions     types.DecisionSet `json:"decisions"`
	Receipt       pricing.Receipt   `json:"receipt"`
	Annotated     image.Image       `json:"-"`
	DetectionTime time.Duration     `json:"detection_time"`
	Elapsed       time.Duration     `json:"elapsed"`
}

// Checkout runs the detect, reduce, price and annotate pipeline
type Checkout struct {
	detector  *detection.Detector
	reducer   *reduction.Reducer
	catalog   *pricing.Catalog
	annotator *annotate.Annotator
	processor *processing.Processor
	logger    *zap.Logger
}

type options struct {
	threshold float64
	style     annotate.Style
	fonts     []annotate.FontStrategy
	logger    *zap.Logger
}

// Option customises a Checkout
type Option func(*options)

// WithThreshold sets the minimum detection confidence
func WithThreshold(threshold float64) Option {
	return func(o *options) { o.threshold = threshold }
}

// WithStyle sets the annotation style
func WithStyle(style annotate.Style) Option {
	return func(o *options) { o.style = style }
}

// WithFonts sets the ordered font strategies for captions
func WithFonts(strategies ...annotate.FontStrategy) Option {
	return func(o *options) { o.fonts = strategies }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a Checkout over a detection backend and catalog
func New(backend client.Backend, catalog *pricing.Catalog, opts ...Option) *Checkout {
	o := options{
		threshold: reduction.DefaultThreshold,
		style:     annotate.DefaultStyle(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	return &Checkout{
		detector:  detection.New(backend, o.logger.Named("detector")),
		reducer:   reduction.New(o.threshold, o.logger.Named("reducer")),
		catalog:   catalog,
		annotator: annotate.New(o.style, o.fonts, o.logger.Named("annotator")),
		processor: processing.NewProcessor(),
		logger:    o.logger,
	}
}

// NewFromConfig builds the backend, catalog and style described by cfg
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Checkout, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := pricing.NewCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	style, err := cfg.AnnotateStyle()
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(cfg.Detector, logger)
	if err != nil {
		return nil, err
	}

	return New(backend, catalog,
		WithThreshold(cfg.Threshold),
		WithStyle(style),
		WithFonts(annotate.DefaultStrategies(cfg.Style.FontPaths...)...),
		WithLogger(logger),
	), nil
}

// NewBackend creates the detection backend selected in the config
func NewBackend(cfg config.DetectorConfig, logger *zap.Logger) (client.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prompt := detection.PromptOptions{
		Model:       cfg.Model,
		SendFormat:  cfg.SendFormat,
		SendSize:    cfg.SendSize,
		SendQuality: cfg.SendQuality,
	}

	switch cfg.Backend {
	case config.BackendOwlV2:
		return owlv2.NewClient(owlv2.Config{
			BaseURL:     cfg.URL,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout(),
			SendFormat:  cfg.SendFormat,
			SendSize:    cfg.SendSize,
			SendQuality: cfg.SendQuality,
		})
	case config.BackendOllama:
		oc, err := ollama.NewClient(cfg.URL, &http.Client{})
		if err != nil {
			return nil, errors.Wrap(err, "ollama client")
		}
		if cfg.TimeoutSeconds > 0 {
			oc.SetTimeout(cfg.Timeout())
		}
		return detection.NewPromptDetector(oc, prompt, logger.Named("ollama")), nil
	case config.BackendLlamaCpp:
		lc, err := llamacpp.NewClient(cfg.URL, cfg.Timeout())
		if err != nil {
			return nil, errors.Wrap(err, "llama.cpp client")
		}
		return detection.NewPromptDetector(lc, prompt, logger.Named("llamacpp")), nil
	default:
		return nil, errors.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

// Catalog returns the price list in use
func (c *Checkout) Catalog() *pricing.Catalog {
	return c.catalog
}

// CheckHealth reports whether the detection model can be reached
func (c *Checkout) CheckHealth(ctx context.Context) error {
	return c.detector.CheckHealth(ctx)
}

// ProcessReader decodes an image, flattens it to RGB and runs Process
func (c *Checkout) ProcessReader(ctx context.Context, r io.Reader) (*Result, error) {
	img, err := c.processor.Decode(r)
	if err != nil {
		return nil, err
	}
	return c.Process(ctx, c.processor.ToRGB(img))
}

// Process detects, reduces, prices and annotates one image
func (c *Checkout) Process(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()
	labels := c.catalog.Labels()
	c.logger.Info("detecting with labels", zap.Strings("labels", labels))

	detStart := time.Now()
	detections, err := c.detector.Detect(ctx, img, labels)
	if err != nil {
		return nil, err
	}
	detectionTime := time.Since(detStart)
	c.logger.Info("detection completed",
		zap.Duration("detection_time", detectionTime),
		zap.Int("detections", len(detections)))

	decisions, stats := c.reducer.Reduce(detections)
	c.logger.Info("reduced detections",
		zap.Int("raw", stats.Raw),
		zap.Int("kept", stats.Kept),
		zap.Int("filtered", stats.Filtered),
		zap.Int("replaced", stats.Replaced),
		zap.Int("labels", len(decisions)))

	receipt, err := pricing.Price(decisions, c.catalog)
	if err != nil {
		c.logger.Error("pricing failed", zap.Error(err))
		return nil, err
	}

	annotated := c.annotator.Annotate(img, decisions)

	elapsed := time.Since(start)
	c.logger.Info("checkout complete",
		zap.Any("items", receipt.Items),
		zap.Stringer("total", receipt.Total),
		zap.Duration("processing_time", elapsed))

	return &Result{
		Decisions:     decisions,
		Receipt:       receipt,
		Annotated:     annotated,
		DetectionTime: detectionTime,
		Elapsed:       elapsed,
	}, nil
}
