package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/shelf-checkout/pkg/client"
	"github.com/menta2k/shelf-checkout/pkg/processing"
	"github.com/menta2k/shelf-checkout/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// promptTemplate asks a chat vision model to behave like a zero-shot detector.
// %s is replaced by the bulleted candidate labels.
const promptTemplate = `You are a retail product detector for a self-checkout camera.

Candidate labels (use these exact spellings, nothing else):
%s

Return JSON only:
{
  "detections": [
    {"label": "string", "score": 0.0, "box": {"xmin": 0.0, "ymin": 0.0, "xmax": 0.0, "ymax": 0.0}}
  ]
}

HARD RULES
- One entry per visible object. The same label may appear more than once.
- Coordinates are normalized to [0,1] (NOT pixels), origin at the top-left.
- score is your confidence in [0,1].
- Ignore objects that match none of the candidate labels.
- If nothing matches, return {"detections": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// BuildPrompt renders the detection prompt for the given labels
func BuildPrompt(labels []string) string {
	var sb strings.Builder
	for i, label := range labels {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(label)
	}
	return fmt.Sprintf(promptTemplate, sb.String())
}

// PromptOptions controls how images are sent to a chat vision model
type PromptOptions struct {
	Model       string
	SendFormat  string
	SendSize    int
	SendQuality int
}

// PromptDetector turns a chat-style vision model into a zero-shot detector
type PromptDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      PromptOptions
	logger    *zap.Logger
}

// NewPromptDetector creates a detector backend over a vision client
func NewPromptDetector(vc client.VisionClient, opts PromptOptions, logger *zap.Logger) *PromptDetector {
	if opts.SendFormat == "" {
		opts.SendFormat = "jpg"
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = 85
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptDetector{
		client:    vc,
		processor: processing.NewProcessor(),
		opts:      opts,
		logger:    logger,
	}
}

type modelReply struct {
	Detections []types.Detection `json:"detections"`
}

// Detect asks the model for detections and scales them to pixel coordinates
func (p *PromptDetector) Detect(ctx context.Context, img image.Image, labels []string) ([]types.Detection, error) {
	imgB64, err := p.processor.PrepareImageForModel(img, p.opts.SendFormat, p.opts.SendSize, p.opts.SendQuality)
	if err != nil {
		return nil, errors.Wrap(err, "encode image")
	}

	raw, err := p.client.SimpleQuery(ctx, p.opts.Model, BuildPrompt(labels), imgB64)
	if err != nil {
		return nil, err
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(sanitizeModelJSON(raw)), &reply); err != nil {
		// A chatty model is not an outage; report nothing seen
		p.logger.Warn("model reply is not valid JSON",
			zap.Error(err),
			zap.String("reply", truncate(raw, 200)))
		return nil, nil
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	out := make([]types.Detection, 0, len(reply.Detections))
	for _, d := range reply.Detections {
		d.Box = toPixels(d.Box, w, h)
		out = append(out, d)
	}
	return out, nil
}

// CheckHealth pings the vision model endpoint
func (p *PromptDetector) CheckHealth(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// TestVision tests if the model can actually see the image with a simple prompt
func (p *PromptDetector) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := p.processor.PrepareImageForModel(img, p.opts.SendFormat, p.opts.SendSize, p.opts.SendQuality)
	if err != nil {
		return "", errors.Wrap(err, "encode image")
	}
	return p.client.SimpleQuery(ctx, p.opts.Model, SimpleTestPrompt, imgB64)
}

// toPixels scales a normalized box to the image size.
// Boxes with any coordinate above 1 are assumed to be in pixels already.
func toPixels(b types.Box, w, h float64) types.Box {
	if b.XMin > 1 || b.YMin > 1 || b.XMax > 1 || b.YMax > 1 {
		return b
	}
	return types.Box{
		XMin: b.XMin * w,
		YMin: b.YMin * h,
		XMax: b.XMax * w,
		YMax: b.YMax * h,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
