package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/menta2k/shelf-checkout/pkg/annotate"
	"github.com/menta2k/shelf-checkout/pkg/pricing"
	"github.com/menta2k/shelf-checkout/pkg/reduction"
)

// Detector backends
const (
	BackendOwlV2    = "owlv2"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Catalog   []pricing.CatalogEntry `json:"catalog"`
	Threshold float64                `json:"threshold"`
	Style     StyleConfig            `json:"style"`
	Detector  DetectorConfig         `json:"detector"`
	Server    ServerConfig           `json:"server"`
	Output    OutputConfig           `json:"output"`
}

// StyleConfig holds annotation drawing settings
type StyleConfig struct {
	StrokeColor string   `json:"stroke_color"`
	StrokeWidth float64  `json:"stroke_width"`
	FontSize    float64  `json:"font_size"`
	TextColor   string   `json:"text_color"`
	FontPaths   []string `json:"font_paths,omitempty"`
}

// DetectorConfig selects and configures the detection backend
type DetectorConfig struct {
	Backend        string `json:"backend"`
	URL            string `json:"url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	SendFormat     string `json:"send_format"`
	SendSize       int    `json:"send_size"`
	SendQuality    int    `json:"send_quality"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr          string `json:"addr"`
	UploadDir     string `json:"upload_dir"`
	OutputDir     string `json:"output_dir"`
	MaxUploadMB   int    `json:"max_upload_mb"`
	MaxConcurrent int    `json:"max_concurrent"`
	MinImageSize  int    `json:"min_image_size"`
}

// OutputConfig holds annotated image encoding settings
type OutputConfig struct {
	Format  string `json:"format"`
	Quality int    `json:"quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Catalog:   pricing.DefaultEntries(),
		Threshold: reduction.DefaultThreshold,
		Style: StyleConfig{
			StrokeColor: "red",
			StrokeWidth: 5,
			FontSize:    32,
			TextColor:   "white",
			FontPaths:   append([]string(nil), annotate.DefaultFontPaths...),
		},
		Detector: DetectorConfig{
			Backend:        BackendOwlV2,
			URL:            "http://localhost:8000",
			Model:          "google/owlv2-base-patch16-ensemble",
			TimeoutSeconds: 300,
			SendFormat:     "jpg",
			SendSize:       1536,
			SendQuality:    85,
		},
		Server: ServerConfig{
			Addr:          ":5000",
			UploadDir:     "uploads",
			OutputDir:     "static/output",
			MaxUploadMB:   50,
			MaxConcurrent: 1,
			MinImageSize:  16,
		},
		Output: OutputConfig{
			Format:  "png",
			Quality: 90,
		},
	}
}

// LoadFromFile loads configuration from a JSON file.
// ${VAR} references are expanded from the environment before parsing and
// fields missing from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := envsubst.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", filename)
	}
	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := pricing.NewCatalog(c.Catalog); err != nil {
		return errors.Wrap(err, "catalog")
	}

	if c.Threshold < 0 || c.Threshold > 1 {
		return errors.New("threshold must be between 0 and 1")
	}

	if _, err := c.AnnotateStyle(); err != nil {
		return err
	}

	switch c.Detector.Backend {
	case BackendOwlV2, BackendOllama, BackendLlamaCpp:
	default:
		return errors.Errorf("detector.backend must be one of %s, %s, %s; got %q",
			BackendOwlV2, BackendOllama, BackendLlamaCpp, c.Detector.Backend)
	}
	if c.Detector.Backend != BackendOwlV2 && c.Detector.Model == "" {
		return errors.Errorf("detector.model is required for the %s backend", c.Detector.Backend)
	}
	if c.Detector.TimeoutSeconds < 0 {
		return errors.New("detector.timeout_seconds cannot be negative")
	}
	if c.Detector.SendQuality < 0 || c.Detector.SendQuality > 100 {
		return errors.New("detector.send_quality must be between 0 and 100")
	}

	if c.Server.MaxUploadMB < 1 {
		return errors.New("server.max_upload_mb must be positive")
	}
	if c.Server.MaxConcurrent < 1 {
		return errors.New("server.max_concurrent must be positive")
	}
	if c.Server.MinImageSize < 0 {
		return errors.New("server.min_image_size cannot be negative")
	}

	switch c.Output.Format {
	case "png", "jpg", "jpeg", "webp":
	default:
		return errors.Errorf("output.format %q is not supported", c.Output.Format)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return errors.New("output.quality must be between 1 and 100")
	}

	return nil
}

// AnnotateStyle converts the style section into drawing settings
func (c *Config) AnnotateStyle() (annotate.Style, error) {
	style := annotate.DefaultStyle()
	if c.Style.StrokeColor != "" {
		col, err := annotate.ParseColor(c.Style.StrokeColor)
		if err != nil {
			return style, errors.Wrap(err, "style.stroke_color")
		}
		style.StrokeColor = col
	}
	if c.Style.TextColor != "" {
		col, err := annotate.ParseColor(c.Style.TextColor)
		if err != nil {
			return style, errors.Wrap(err, "style.text_color")
		}
		style.TextColor = col
	}
	if c.Style.StrokeWidth < 0 || c.Style.FontSize < 0 {
		return style, errors.New("style sizes cannot be negative")
	}
	if c.Style.StrokeWidth > 0 {
		style.StrokeWidth = c.Style.StrokeWidth
	}
	if c.Style.FontSize > 0 {
		style.FontSize = c.Style.FontSize
	}
	return style, nil
}

// Timeout returns the inference timeout
func (d DetectorConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "shelf-checkout", "config.json")
}
