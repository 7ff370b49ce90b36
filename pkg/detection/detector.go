// Package detection adapts zero-shot detection backends to the checkout
// vocabulary. Whatever the backend, callers get pixel-space boxes inside the
// image, scores in [0,1] and labels spelled exactly as in the catalog.
package detection

import (
	"context"
	"image"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/menta2k/shelf-checkout/pkg/client"
	"github.com/menta2k/shelf-checkout/pkg/types"
)

// Detector enforces the candidate vocabulary on a backend's output
type Detector struct {
	backend client.Backend
	logger  *zap.Logger
}

// New creates a detector over the given backend
func New(backend client.Backend, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{backend: backend, logger: logger}
}

// Detect returns detections for the candidate labels.
// An empty vocabulary short-circuits without contacting the model.
func (d *Detector) Detect(ctx context.Context, img image.Image, labels []string) ([]types.Detection, error) {
	if len(labels) == 0 {
		return nil, nil
	}

	raw, err := d.backend.Detect(ctx, img, labels)
	if err != nil {
		return nil, &types.ModelError{Op: "detect", Err: err}
	}

	canonical := make(map[string]string, len(labels))
	for _, label := range labels {
		canonical[foldLabel(label)] = label
	}

	bounds := img.Bounds()
	out := make([]types.Detection, 0, len(raw))
	for _, det := range raw {
		label, ok := canonical[foldLabel(det.Label)]
		if !ok {
			d.logger.Warn("dropping detection outside vocabulary",
				zap.String("label", det.Label),
				zap.Float64("score", det.Score))
			continue
		}
		out = append(out, types.Detection{
			Label: label,
			Score: clamp(det.Score, 0, 1),
			Box:   det.Box.Normalize().Clamp(bounds),
		})
	}
	return out, nil
}

// CheckHealth probes the backend
func (d *Detector) CheckHealth(ctx context.Context) error {
	if err := d.backend.CheckHealth(ctx); err != nil {
		return &types.ModelError{Op: "health check", Err: err}
	}
	return nil
}

func foldLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
