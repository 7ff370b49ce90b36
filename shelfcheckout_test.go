package shelfcheckout

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/menta2k/shelf-checkout/internal/config"
	"github.com/menta2k/shelf-checkout/pkg/annotate"
	"github.com/menta2k/shelf-checkout/pkg/detection"
	"github.com/menta2k/shelf-checkout/pkg/owlv2"
	"github.com/menta2k/shelf-checkout/pkg/pricing"
	"github.com/menta2k/shelf-checkout/pkg/types"
)

type fakeBackend struct {
	dets   []types.Detection
	err    error
	calls  int
	labels []string
}

func (f *fakeBackend) Detect(ctx context.Context, img image.Image, labels []string) ([]types.Detection, error) {
	f.calls++
	f.labels = labels
	return f.dets, f.err
}

func (f *fakeBackend) CheckHealth(ctx context.Context) error {
	return f.err
}

// createTestImage creates a plain counter-top coloured image
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{64, 64, 64, 255})
		}
	}
	return img
}

func bananaDetections() []types.Detection {
	return []types.Detection{
		{Label: "Banana", Score: 0.05, Box: types.Box{XMin: 1, YMin: 1, XMax: 2, YMax: 2}},
		{Label: "Banana", Score: 0.8, Box: types.Box{XMin: 0, YMin: 0, XMax: 10, YMax: 10}},
		{Label: "Banana", Score: 0.3, Box: types.Box{XMin: 5, YMin: 5, XMax: 20, YMax: 20}},
	}
}

func newCheckout(backend *fakeBackend, catalog *pricing.Catalog, opts ...Option) *Checkout {
	opts = append([]Option{WithFonts(annotate.BasicFont{})}, opts...)
	return New(backend, catalog, opts...)
}

func TestProcessBananaScenario(t *testing.T) {
	backend := &fakeBackend{dets: bananaDetections()}
	co := newCheckout(backend, pricing.MustCatalog(pricing.DefaultEntries()))

	img := createTestImage(64, 64)
	result, err := co.Process(context.Background(), img)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := types.DecisionSet{
		"Banana": {Label: "Banana", Score: 0.8, Box: types.Box{XMax: 10, YMax: 10}, Area: 100},
	}
	if diff := cmp.Diff(want, result.Decisions); diff != "" {
		t.Errorf("Decisions mismatch (-want +got):\n%s", diff)
	}
	if result.Receipt.Total != 120 || result.Receipt.Total.String() != "1.20" {
		t.Errorf("Expected total 1.20, got %s", result.Receipt.Total)
	}
	if diff := cmp.Diff(map[string]int{"Banana": 1}, result.Receipt.Items); diff != "" {
		t.Errorf("Items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pricing.MustCatalog(pricing.DefaultEntries()).Labels(), backend.labels); diff != "" {
		t.Errorf("Detector got wrong vocabulary (-want +got):\n%s", diff)
	}

	if result.Annotated.Bounds() != img.Bounds() {
		t.Errorf("Annotated bounds %v, want %v", result.Annotated.Bounds(), img.Bounds())
	}
	if img.RGBAAt(0, 5) != (color.RGBA{64, 64, 64, 255}) {
		t.Error("Input image was modified")
	}
	if result.Elapsed < result.DetectionTime {
		t.Errorf("Elapsed %v shorter than detection time %v", result.Elapsed, result.DetectionTime)
	}
}

func TestProcessEmptyVocabulary(t *testing.T) {
	backend := &fakeBackend{dets: bananaDetections()}
	co := newCheckout(backend, pricing.MustCatalog(nil))

	img := createTestImage(32, 32)
	result, err := co.Process(context.Background(), img)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if backend.calls != 0 {
		t.Errorf("Model should not be queried with no labels, called %d times", backend.calls)
	}
	if len(result.Decisions) != 0 || len(result.Receipt.Items) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
	if result.Receipt.Total.String() != "0.00" {
		t.Errorf("Expected total 0.00, got %s", result.Receipt.Total)
	}
	if _, ok := result.Annotated.(*image.RGBA); !ok {
		t.Errorf("Expected *image.RGBA, got %T", result.Annotated)
	}
}

func TestProcessModelUnavailable(t *testing.T) {
	co := newCheckout(&fakeBackend{err: errors.New("connection refused")}, pricing.MustCatalog(pricing.DefaultEntries()))

	if _, err := co.Process(context.Background(), createTestImage(16, 16)); !errors.Is(err, types.ErrModelUnavailable) {
		t.Errorf("Expected ErrModelUnavailable, got %v", err)
	}
	if err := co.CheckHealth(context.Background()); !errors.Is(err, types.ErrModelUnavailable) {
		t.Errorf("Expected ErrModelUnavailable from CheckHealth, got %v", err)
	}
}

func TestProcessThreshold(t *testing.T) {
	backend := &fakeBackend{dets: bananaDetections()}
	co := newCheckout(backend, pricing.MustCatalog(pricing.DefaultEntries()), WithThreshold(0.9))

	result, err := co.Process(context.Background(), createTestImage(32, 32))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(result.Decisions) != 0 || result.Receipt.Total != 0 {
		t.Errorf("Expected everything filtered, got %+v", result.Receipt)
	}
}

func TestProcessReader(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatal(err)
	}

	backend := &fakeBackend{dets: []types.Detection{
		{Label: "croissant", Score: 0.5, Box: types.Box{XMin: 2, YMin: 2, XMax: 12, YMax: 12}},
		{Label: "Banana", Score: 0.4, Box: types.Box{XMin: 20, YMin: 5, XMax: 35, YMax: 25}},
	}}
	co := newCheckout(backend, pricing.MustCatalog(pricing.DefaultEntries()))

	result, err := co.ProcessReader(context.Background(), &buf)
	if err != nil {
		t.Fatalf("ProcessReader failed: %v", err)
	}
	if result.Receipt.Total.String() != "1.70" {
		t.Errorf("Expected total 1.70, got %s", result.Receipt.Total)
	}
	if result.Annotated.Bounds().Dx() != 40 || result.Annotated.Bounds().Dy() != 30 {
		t.Errorf("Unexpected annotated bounds %v", result.Annotated.Bounds())
	}
}

func TestProcessReaderDecodeError(t *testing.T) {
	backend := &fakeBackend{}
	co := newCheckout(backend, pricing.MustCatalog(pricing.DefaultEntries()))

	_, err := co.ProcessReader(context.Background(), bytes.NewReader([]byte("not an image")))
	if !errors.Is(err, types.ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
	if backend.calls != 0 {
		t.Error("Detector should not run after a decode failure")
	}
}

func TestProcessLogsMilestones(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	co := newCheckout(&fakeBackend{dets: bananaDetections()}, pricing.MustCatalog(pricing.DefaultEntries()), WithLogger(zap.New(core)))

	if _, err := co.Process(context.Background(), createTestImage(32, 32)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for _, msg := range []string{"detecting with labels", "detection completed", "reduced detections", "checkout complete"} {
		if logs.FilterMessage(msg).Len() != 1 {
			t.Errorf("Expected log %q", msg)
		}
	}
	reduced := logs.FilterMessage("reduced detections").All()[0].ContextMap()
	if reduced["filtered"] != int64(1) || reduced["kept"] != int64(2) || reduced["labels"] != int64(1) {
		t.Errorf("Unexpected reduction stats %v", reduced)
	}
	done := logs.FilterMessage("checkout complete").All()[0].ContextMap()
	if done["total"] != "1.20" {
		t.Errorf("Expected total 1.20 in log, got %v", done["total"])
	}
}

func TestNewBackend(t *testing.T) {
	cfg := config.Default()

	backend, err := NewBackend(cfg.Detector, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBackend(owlv2) failed: %v", err)
	}
	if _, ok := backend.(*owlv2.Client); !ok {
		t.Errorf("Expected *owlv2.Client, got %T", backend)
	}

	for _, name := range []string{config.BackendOllama, config.BackendLlamaCpp} {
		cfg.Detector.Backend = name
		cfg.Detector.URL = "http://localhost:11434"
		cfg.Detector.Model = "qwen2.5vl"
		backend, err := NewBackend(cfg.Detector, zap.NewNop())
		if err != nil {
			t.Fatalf("NewBackend(%s) failed: %v", name, err)
		}
		if _, ok := backend.(*detection.PromptDetector); !ok {
			t.Errorf("Expected *detection.PromptDetector for %s, got %T", name, backend)
		}
	}

	cfg.Detector.Backend = "yolo"
	if _, err := NewBackend(cfg.Detector, nil); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Style.FontPaths = []string{"/nonexistent/font.ttf"}

	co, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if co.Catalog().Len() != 5 {
		t.Errorf("Expected 5 catalog entries, got %d", co.Catalog().Len())
	}

	cfg.Threshold = 2
	if _, err := NewFromConfig(cfg, nil); err == nil {
		t.Error("Expected validation error")
	}
}
