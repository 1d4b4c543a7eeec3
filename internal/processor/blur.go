package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // PNG format support
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/library"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	defaultBlurRadius = 15.0
	defaultQuality    = 90
	// Larger sources are refused instead of decoded into memory
	maxSourceBytes = 256 << 20
)

// Modes understood by Process
const (
	ModeFill = "fill"
	ModeBlur = "blur"
)

// ErrImageTooLarge is returned for sources above the size limit
var ErrImageTooLarge = errors.New("image too large")

// ProcessorConfig holds configuration for image processing
type ProcessorConfig struct {
	BlurRadius float64
	Quality    int
	// MaxSourceBytes bounds what is read into memory before decoding
	MaxSourceBytes int64
}

// ImageProcessor fits still images to a surface: aspect-fill by default,
// or a sharp letterboxed copy over a blurred fill of itself
type ImageProcessor struct {
	logger  *zap.Logger
	appCfg  domain.Config
	fetcher domain.Fetcher
	config  ProcessorConfig
}

// NewImageProcessor creates a processor writing into the configured output dir
func NewImageProcessor(logger *zap.Logger, appCfg domain.Config, fetcher domain.Fetcher) *ImageProcessor {
	return &ImageProcessor{
		logger:  logger,
		appCfg:  appCfg,
		fetcher: fetcher,
		config: ProcessorConfig{
			BlurRadius:     defaultBlurRadius,
			Quality:        defaultQuality,
			MaxSourceBytes: maxSourceBytes,
		},
	}
}

// Process decodes imageData and renders it at width x height
func (p *ImageProcessor) Process(ctx context.Context, imageData []byte, width, height int, mode string) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size: %dx%d", width, height)
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Validate image dimensions to prevent division by zero
	bounds := img.Bounds()
	if bounds.Dy() == 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result image.Image
	switch mode {
	case ModeBlur:
		result = p.letterbox(img, width, height)
	case ModeFill, "":
		p.logger.Debug("Filling surface", zap.Int("w", width), zap.Int("h", height))
		result = imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	default:
		return nil, fmt.Errorf("unknown image mode %q", mode)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, result, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	p.logger.Debug("Image processed successfully", zap.Int("bytes", buf.Len()), zap.String("mode", mode))
	return buf.Bytes(), nil
}

// letterbox pastes the whole image, scaled to fit, over a blurred fill
func (p *ImageProcessor) letterbox(img image.Image, width, height int) image.Image {
	p.logger.Debug("Creating blurred background", zap.Int("w", width), zap.Int("h", height))
	background := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	background = imaging.Blur(background, p.config.BlurRadius)

	fitted := imaging.Fit(img, width, height, imaging.Lanczos)
	fb := fitted.Bounds()
	x := (width - fb.Dx()) / 2
	y := (height - fb.Dy()) / 2
	return imaging.Paste(background, fitted, image.Pt(x, y))
}

// Prepare loads the image behind locator, processes it in the configured
// mode and saves it as <outputDir>/<name>.jpg. It satisfies domain.ImagePreparer.
func (p *ImageProcessor) Prepare(ctx context.Context, locator string, width, height int, name string) (string, error) {
	data, err := p.load(ctx, locator)
	if err != nil {
		return "", err
	}

	mode := p.appCfg.GetImageMode()
	processed, err := p.Process(ctx, data, width, height, mode)
	if err != nil {
		return "", fmt.Errorf("failed to process image: %w", err)
	}

	return p.save(processed, name)
}

// Blank saves a black width x height image as <outputDir>/<name>.jpg
func (p *ImageProcessor) Blank(ctx context.Context, width, height int, name string) (string, error) {
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("invalid target size: %dx%d", width, height)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	buf := new(bytes.Buffer)
	img := imaging.New(width, height, color.Black)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return p.save(buf.Bytes(), name)
}

func (p *ImageProcessor) save(processed []byte, name string) (string, error) {
	outputDir := p.appCfg.GetOutputDir()
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(outputDir, name+".jpg")
	tmp, err := os.CreateTemp(outputDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to write wallpaper file: %w", err)
	}
	_, werr := tmp.Write(processed)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write wallpaper file: %w", werr)
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write wallpaper file: %w", err)
	}

	p.logger.Debug("Wallpaper prepared",
		zap.String("path", outputPath),
		zap.Int("size", len(processed)))

	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		return outputPath, nil // Return relative path if abs fails
	}
	return absPath, nil
}

func (p *ImageProcessor) load(ctx context.Context, locator string) ([]byte, error) {
	if library.IsHTTP(locator) {
		if p.fetcher == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", locator)
		}
		buf := &limitedBuffer{max: p.config.MaxSourceBytes}
		if _, err := p.fetcher.Fetch(ctx, locator, buf); err != nil {
			return nil, fmt.Errorf("failed to fetch image: %w", err)
		}
		return buf.Bytes(), nil
	}

	path, ok := library.LocalPath(locator)
	if !ok {
		return nil, fmt.Errorf("unsupported locator %q", locator)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingResource, err)
	}
	if info.Size() > p.config.MaxSourceBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

// limitedBuffer fails the write that would take it past max, which aborts
// the download instead of buffering an oversized body. It has no ReadFrom,
// so io.Copy always goes through Write.
type limitedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *limitedBuffer) Write(data []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(data)) > b.max {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, b.max)
	}
	return b.buf.Write(data)
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
