// Package owlv2 talks to an HTTP inference service that wraps a zero-shot
// object detection pipeline (for example google/owlv2-base-patch16-ensemble).
//
// The service receives a multipart form with the image in "file" and one
// "candidate_labels" field per label, and answers with the pipeline output:
//
//	[{"score": 0.8, "label": "Banana", "box": {"xmin": 0, "ymin": 0, "xmax": 10, "ymax": 10}}]
//
// An object wrapper {"detections": [...]} is accepted too.
package owlv2

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/menta2k/shelf-checkout/pkg/processing"
	"github.com/menta2k/shelf-checkout/pkg/types"
)

// DefaultModel is the checkpoint requested when none is configured
const DefaultModel = "google/owlv2-base-patch16-ensemble"

// Config holds the inference service settings
type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	SendFormat  string
	SendSize    int
	SendQuality int
}

// Client is a zero-shot detection backend
type Client struct {
	cfg        Config
	httpClient *http.Client
	processor  *processing.Processor
}

// NewClient creates a new inference client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("owlv2: base URL is required")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.SendFormat == "" {
		cfg.SendFormat = "png"
	}
	if cfg.SendQuality <= 0 {
		cfg.SendQuality = 90
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		processor:  processing.NewProcessor(),
	}, nil
}

type prediction struct {
	Score float64   `json:"score"`
	Label string    `json:"label"`
	Box   types.Box `json:"box"`
}

// Detect posts the image and candidate labels and returns pixel-space detections
func (c *Client) Detect(ctx context.Context, img image.Image, labels []string) ([]types.Detection, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	// The service sees the resized image, so boxes are scaled back afterwards
	data, err := c.processor.PrepareImageBytes(img, c.cfg.SendFormat, c.cfg.SendSize, c.cfg.SendQuality)
	if err != nil {
		return nil, errors.Wrap(err, "encode image")
	}
	sent, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "inspect encoded image")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image."+processing.Extension(c.cfg.SendFormat))
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if _, err := part.Write(data); err != nil {
		return nil, errors.Wrap(err, "write image data")
	}
	for _, label := range labels {
		if err := writer.WriteField("candidate_labels", label); err != nil {
			return nil, errors.Wrap(err, "write label")
		}
	}
	if err := writer.WriteField("model", c.cfg.Model); err != nil {
		return nil, errors.Wrap(err, "write model")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/detect", body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	preds, err := decodePredictions(raw)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	sx := float64(b.Dx()) / float64(sent.Width)
	sy := float64(b.Dy()) / float64(sent.Height)

	detections := make([]types.Detection, 0, len(preds))
	for _, p := range preds {
		detections = append(detections, types.Detection{
			Label: p.Label,
			Score: p.Score,
			Box: types.Box{
				XMin: p.Box.XMin * sx,
				YMin: p.Box.YMin * sy,
				XMax: p.Box.XMax * sx,
				YMax: p.Box.YMax * sy,
			},
		})
	}
	return detections, nil
}

func decodePredictions(raw []byte) ([]prediction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Detections []prediction `json:"detections"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, errors.Wrap(err, "decode response")
		}
		return wrapped.Detections, nil
	}

	var preds []prediction
	if err := json.Unmarshal(raw, &preds); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return preds, nil
}

// CheckHealth checks that the inference service is up
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "inference service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
