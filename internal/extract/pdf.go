// Package extract pulls text and embedded raster images out of PDF blobs
// using the poppler command line tools.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/doctorfy/doctorfy/internal/common"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdfimages string // binary name or absolute path; if empty -> "pdfimages"
	MaxImages int    // embedded images kept per document, default 5
	Runner    Runner // stubbed in tests; if nil -> exec
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdfimages == "" {
		cfg.Pdfimages = "pdfimages"
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 5
	}
	runner := cfg.Runner
	if runner == nil {
		runner = execRunner{logger: logger}
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Extract returns all per-page text in page order plus up to MaxImages
// embedded raster images in document order. An empty text result is not an
// error. Only a structurally invalid PDF fails.
func (e *Extractor) Extract(ctx context.Context, pdf []byte) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "dfy-pdf-*")
	if err != nil {
		return Result{}, common.NewAppError(common.KindIOFailure, "creating temp dir", err)
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			e.logger.Warn("extract.tmp_cleanup_failed", "dir", tmpDir, "error", rerr)
		}
	}()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return Result{}, common.NewAppError(common.KindIOFailure, "writing temp pdf", err)
	}

	text, err := e.pdfToText(ctx, in)
	if err != nil {
		return Result{}, err
	}

	images := e.embeddedImages(ctx, in, tmpDir)

	return Result{Text: text, Images: images}, nil
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", common.NewAppError(common.KindParseError,
			"document is not a readable PDF",
			fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512)))
	}
	// NULs leak out of malformed embedded fonts and break downstream storage.
	return strings.ReplaceAll(string(out), "\x00", ""), nil
}

// embeddedImages rasterizes nothing; it lifts the images already embedded in
// the document. Failures here degrade to a text-only result.
func (e *Extractor) embeddedImages(ctx context.Context, path, tmpDir string) []Image {
	prefix := filepath.Join(tmpDir, "img")
	// pdfimages -all <in.pdf> <tmp/img>
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdfimages, "-all", path, prefix); err != nil {
		e.logger.Warn("extract.pdfimages_failed", "error", err, "stderr", truncate(string(errb), 512))
		return nil
	}

	// pdfimages names output img-000.png, img-001.jpg, ... in document order.
	matches, _ := filepath.Glob(prefix + "-*")
	sort.Strings(matches)

	var images []Image
	for _, m := range matches {
		if len(images) >= e.cfg.MaxImages {
			e.logger.Warn("extract.image_cap_reached", "cap", e.cfg.MaxImages, "found", len(matches))
			break
		}
		data, err := os.ReadFile(m)
		if err != nil || len(data) == 0 {
			continue
		}
		images = append(images, Image{MediaType: sniffMediaType(data), Data: data})
	}
	return images
}

// sniffMediaType infers the media type from magic bytes, falling back to
// image/jpeg for anything unrecognizable.
func sniffMediaType(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return ct
	default:
		return "image/jpeg"
	}
}
