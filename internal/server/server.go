// Package server is the HTTP front end of the checkout: an upload form, a
// rendered receipt page and a JSON API over the same pipeline.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/sync/semaphore"

	shelfcheckout "github.com/menta2k/shelf-checkout"
	"github.com/menta2k/shelf-checkout/internal/config"
	"github.com/menta2k/shelf-checkout/internal/utils"
	"github.com/menta2k/shelf-checkout/pkg/pricing"
	"github.com/menta2k/shelf-checkout/pkg/processing"
	"github.com/menta2k/shelf-checkout/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

const thumbnailSize = 96

// Server serves the checkout over HTTP
type Server struct {
	checkout  *shelfcheckout.Checkout
	cfg       config.ServerConfig
	output    config.OutputConfig
	sem       *semaphore.Weighted
	templates *template.Template
	processor *processing.Processor
	logger    *zap.Logger
}

// New creates a server and makes sure the upload and output directories exist
func New(checkout *shelfcheckout.Checkout, cfg config.ServerConfig, output config.OutputConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxUploadMB < 1 {
		cfg.MaxUploadMB = 50
	}
	if output.Format == "" {
		output.Format = "png"
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}

	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	return &Server{
		checkout:  checkout,
		cfg:       cfg,
		output:    output,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		templates: tmpl,
		processor: processing.NewProcessor(),
		logger:    logger,
	}, nil
}

// Handler returns the routed, CORS-enabled handler
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), s.handleIndex)
	mux.HandleFunc(pat.Post("/"), s.handleUpload)
	mux.HandleFunc(pat.Post("/api/checkout"), s.handleAPICheckout)
	mux.HandleFunc(pat.Get("/output/:name"), s.handleOutput)
	mux.HandleFunc(pat.Get("/health"), s.handleHealth)
	return cors.AllowAll().Handler(mux)
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down", zap.Error(err))
		}
	}()

	s.logger.Info("serving", zap.String("addr", s.cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type indexPage struct {
	Messages []string
	Catalog  []pricing.CatalogEntry
}

type resultLine struct {
	pricing.ReceiptLine
	Thumbnail template.URL
}

type resultPage struct {
	ImageURL string
	Lines    []resultLine
	Total    pricing.Money
	Seconds  float64
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderIndex(w, http.StatusOK)
}

func (s *Server) renderIndex(w http.ResponseWriter, status int, messages ...string) {
	s.render(w, status, "index.html", indexPage{
		Messages: messages,
		Catalog:  s.checkout.Catalog().Entries(),
	})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("template failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, filename, status, msg := s.readUpload(w, r)
	if msg != "" {
		s.renderIndex(w, status, msg)
		return
	}

	result, err := s.run(r.Context(), data, filename)
	if err != nil {
		status, msg := errorStatus(err)
		s.renderIndex(w, status, msg)
		return
	}

	page := resultPage{
		ImageURL: result.Output,
		Lines:    make([]resultLine, 0, len(result.Receipt.Lines)),
		Total:    result.Receipt.Total,
		Seconds:  result.Elapsed.Seconds(),
	}
	for _, line := range result.Receipt.Lines {
		page.Lines = append(page.Lines, resultLine{
			ReceiptLine: line,
			Thumbnail:   s.thumbnail(result.Result, line.Label),
		})
	}
	s.render(w, http.StatusOK, "result.html", page)
}

type apiResponse struct {
	Items            map[string]int        `json:"items"`
	Lines            []pricing.ReceiptLine `json:"lines"`
	Total            pricing.Money         `json:"total"`
	Decisions        []types.LabelDecision `json:"decisions"`
	DetectionTimeMS  int64                 `json:"detection_time_ms"`
	ProcessingTimeMS int64                 `json:"processing_time_ms"`
	Image            processing.ImageInfo  `json:"image"`
	Output           string                `json:"output"`
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) handleAPICheckout(w http.ResponseWriter, r *http.Request) {
	data, filename, status, msg := s.readUpload(w, r)
	if msg != "" {
		writeJSON(w, status, apiError{Error: msg})
		return
	}

	result, err := s.run(r.Context(), data, filename)
	if err != nil {
		status, msg := errorStatus(err)
		writeJSON(w, status, apiError{Error: msg})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Items:            result.Receipt.Items,
		Lines:            result.Receipt.Lines,
		Total:            result.Receipt.Total,
		Decisions:        result.Decisions.Sorted(),
		DetectionTimeMS:  result.DetectionTime.Milliseconds(),
		ProcessingTimeMS: result.Elapsed.Milliseconds(),
		Image:            result.Image,
		Output:           result.Output,
	})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(s.cfg.OutputDir, name)
	if !utils.FileExists(path) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.checkout.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readUpload pulls the "file" part out of a multipart request.
// A non-empty message means the request was rejected.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, int, string) {
	limit := int64(s.cfg.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", http.StatusRequestEntityTooLarge, "File is too large"
		}
		return nil, "", http.StatusBadRequest, "No file part"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", http.StatusBadRequest, "No file part"
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, "", http.StatusBadRequest, "No selected file"
	}
	if !utils.AllowedFile(header.Filename) {
		return nil, "", http.StatusBadRequest, "Allowed image types are - " + strings.Join(utils.AllowedExtensions, ", ")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", http.StatusBadRequest, "Could not read upload"
	}
	return data, header.Filename, 0, ""
}

// checkoutRun is one served checkout
type checkoutRun struct {
	*shelfcheckout.Result
	Image  processing.ImageInfo
	Output string
}

// run stores the upload, checks the image, runs the pipeline and saves the
// annotated image
func (s *Server) run(ctx context.Context, data []byte, filename string) (*checkoutRun, error) {
	stored := utils.UniqueFilename(filename)
	uploadPath := filepath.Join(s.cfg.UploadDir, stored)
	if err := os.WriteFile(uploadPath, data, 0644); err != nil {
		return nil, errors.Wrap(err, "store upload")
	}

	img, format, err := s.processor.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	info := s.processor.GetImageInfo(img)
	info.Format = format
	s.logger.Info("image uploaded",
		zap.String("path", uploadPath),
		zap.String("format", info.Format),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height))

	if err := s.processor.ValidateImage(img, s.cfg.MinImageSize); err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "waiting for detector")
	}
	result, err := s.checkout.Process(ctx, s.processor.ToRGB(img))
	s.sem.Release(1)
	if err != nil {
		s.logger.Error("checkout failed", zap.String("upload", stored), zap.Error(err))
		return nil, err
	}

	base := strings.TrimSuffix(stored, filepath.Ext(stored))
	outName := "annotated_" + base + "." + processing.Extension(s.output.Format)
	outPath := filepath.Join(s.cfg.OutputDir, outName)
	if err := s.processor.SaveImage(result.Annotated, outPath, s.output.Format, s.output.Quality, false); err != nil {
		return nil, errors.Wrap(err, "save annotated image")
	}
	s.logger.Info("annotated image saved", zap.String("path", outPath))

	return &checkoutRun{Result: result, Image: info, Output: "/output/" + outName}, nil
}

func (s *Server) thumbnail(result *shelfcheckout.Result, label string) template.URL {
	ld, ok := result.Decisions[label]
	if !ok {
		return ""
	}
	thumb, err := s.processor.CropImageToBox(result.Annotated, ld.Box, thumbnailSize)
	if err != nil {
		s.logger.Debug("no thumbnail", zap.String("label", label), zap.Error(err))
		return ""
	}
	var buf bytes.Buffer
	if err := s.processor.EncodeImage(&buf, thumb, "png", 0, false); err != nil {
		return ""
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled or timed out"
	case errors.Is(err, types.ErrImageTooSmall):
		return http.StatusBadRequest, "Image is too small"
	case errors.Is(err, types.ErrDecode):
		return http.StatusBadRequest, "Could not read the image"
	case errors.Is(err, types.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "Detection model is unavailable"
	default:
		return http.StatusInternalServerError, "Checkout failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
