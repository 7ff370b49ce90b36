package reduction

import (
	"go.uber.org/zap"

	"github.com/menta2k/shelf-checkout/pkg/types"
)

// DefaultThreshold is the minimum confidence a detection needs to be kept
const DefaultThreshold = 0.1

// Postprocessor filters or modifies a list of detections
type Postprocessor func([]types.Detection) []types.Detection

// NewScoreFilter returns a postprocessor that drops detections scoring below conf.
// A score equal to conf is kept.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []types.Detection) []types.Detection {
		out := make([]types.Detection, 0, len(in))
		for _, d := range in {
			if d.Score >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}

// Reduce collapses detections to at most one decision per label.
//
// Detections scoring below threshold are discarded. For each label the
// highest score wins; a later detection replaces the stored one only when its
// score is strictly greater, so the first detection seen at a tied maximum is
// kept. Iteration follows slice order, which the detector does not promise to
// keep stable between runs.
func Reduce(detections []types.Detection, threshold float64) types.DecisionSet {
	ds, _ := reduce(detections, threshold, nil)
	return ds
}

// Stats summarises one reduction
type Stats struct {
	Raw      int
	Kept     int
	Filtered int
	Replaced int
}

// Reducer applies Reduce with a fixed threshold and logs each decision
type Reducer struct {
	threshold float64
	logger    *zap.Logger
}

// New creates a Reducer. A nil logger disables logging.
func New(threshold float64, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{threshold: threshold, logger: logger}
}

// Threshold returns the configured confidence threshold
func (r *Reducer) Threshold() float64 {
	return r.threshold
}

// Reduce reduces detections and reports what happened
func (r *Reducer) Reduce(detections []types.Detection) (types.DecisionSet, Stats) {
	return reduce(detections, r.threshold, r.logger)
}

func reduce(detections []types.Detection, threshold float64, logger *zap.Logger) (types.DecisionSet, Stats) {
	if logger == nil {
		logger = zap.NewNop()
	}

	stats := Stats{Raw: len(detections)}
	kept := NewScoreFilter(threshold)(detections)
	stats.Kept = len(kept)
	stats.Filtered = stats.Raw - stats.Kept
	if stats.Filtered > 0 {
		logger.Debug("filtered out low confidence detections",
			zap.Int("filtered", stats.Filtered), zap.Float64("threshold", threshold))
	}

	best := make(types.DecisionSet)
	for _, d := range kept {
		current, ok := best[d.Label]
		if !ok {
			best[d.Label] = types.NewLabelDecision(d)
			logger.Debug("added first detection", zap.String("label", d.Label), zap.Float64("score", d.Score))
			continue
		}
		if d.Score > current.Score {
			logger.Debug("replaced detection with higher confidence",
				zap.String("label", d.Label), zap.Float64("score", d.Score), zap.Float64("previous", current.Score))
			best[d.Label] = types.NewLabelDecision(d)
			stats.Replaced++
		}
	}

	return best, stats
}
