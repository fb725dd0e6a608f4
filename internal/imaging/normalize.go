// Package imaging re-encodes arbitrary raster uploads into a canonical JPEG
// bounded by pixel count and byte size, preserving diagnostic content.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register webp decoding

	"github.com/doctorfy/doctorfy/internal/common"
)

const (
	// maxEdge bounds the longer edge before the first encode attempt.
	maxEdge = 2000
	// finalEdge is the last-resort long edge when byte budget cannot be met.
	finalEdge = 800

	qualityStart = 95
	qualityStep  = 5
	qualityFloor = 30

	scaleStep  = 0.9
	scaleFloor = 0.3
)

// DefaultMaxBytes is the per-image ceiling accepted by the model provider.
const DefaultMaxBytes = int(4.5 * 1024 * 1024)

// Image is the canonical normalized payload. MediaType is always image/jpeg.
type Image struct {
	MediaType string
	Data      []byte
}

type Normalizer struct {
	maxBytes int
	logger   *slog.Logger
}

func NewNormalizer(maxBytes int, logger *slog.Logger) *Normalizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{maxBytes: maxBytes, logger: logger}
}

// Normalize decodes any whitelisted raster input and re-encodes it as JPEG,
// resizing and degrading quality until the payload fits the byte ceiling.
// In-budget JPEGs pass through untouched, which makes Normalize idempotent.
func (n *Normalizer) Normalize(data []byte) (Image, error) {
	if len(data) <= n.maxBytes {
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil &&
			format == "jpeg" && cfg.Width <= maxEdge && cfg.Height <= maxEdge {
			return Image{MediaType: "image/jpeg", Data: data}, nil
		}
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, common.NewAppError(common.KindDecodeError, "input is not a recognized raster format", err)
	}

	img := flattenOnWhite(src)

	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w > maxEdge || h > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	encoded, err := encodeJPEG(img, qualityStart)
	if err != nil {
		return Image{}, err
	}
	if len(encoded) <= n.maxBytes {
		return Image{MediaType: "image/jpeg", Data: encoded}, nil
	}

	// Quality degradation pass.
	for q := qualityStart - qualityStep; q >= qualityFloor; q -= qualityStep {
		encoded, err = encodeJPEG(img, q)
		if err != nil {
			return Image{}, err
		}
		if len(encoded) <= n.maxBytes {
			n.logger.Debug("imaging.quality_reduced", "quality", q, "bytes", len(encoded))
			return Image{MediaType: "image/jpeg", Data: encoded}, nil
		}
	}

	// Dimension degradation pass at the quality floor.
	baseW, baseH := img.Bounds().Dx(), img.Bounds().Dy()
	for scale := scaleStep; scale >= scaleFloor; scale *= scaleStep {
		scaled := imaging.Resize(img, int(float64(baseW)*scale), int(float64(baseH)*scale), imaging.Lanczos)
		encoded, err = encodeJPEG(scaled, qualityFloor)
		if err != nil {
			return Image{}, err
		}
		if len(encoded) <= n.maxBytes {
			n.logger.Warn("imaging.dimensions_reduced", "scale", scale, "bytes", len(encoded))
			return Image{MediaType: "image/jpeg", Data: encoded}, nil
		}
	}

	// Final downscale; returned even if the ceiling is still exceeded so the
	// caller can decide whether to send or drop.
	small := imaging.Fit(img, finalEdge, finalEdge, imaging.Lanczos)
	encoded, err = encodeJPEG(small, qualityFloor)
	if err != nil {
		return Image{}, err
	}
	n.logger.Warn("imaging.final_downscale", "bytes", len(encoded))
	return Image{MediaType: "image/jpeg", Data: encoded}, nil
}

// flattenOnWhite composites transparency against white, which is what JPEG
// output requires.
func flattenOnWhite(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "encoding jpeg", err)
	}
	return buf.Bytes(), nil
}
