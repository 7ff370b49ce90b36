package client

import (
	"context"
	"image"

	"github.com/menta2k/shelf-checkout/pkg/types"
)

// VisionClient is a chat-style multimodal model endpoint
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	Ping(ctx context.Context) error
}

// Backend is a zero-shot detector: given an image and candidate labels it
// returns unordered detections, possibly several per label.
type Backend interface {
	Detect(ctx context.Context, img image.Image, labels []string) ([]types.Detection, error)
	CheckHealth(ctx context.Context) error
}
