// Package screenshot implements the Screenshot Pipeline: capture with
// fallbacks, validation, deterministic filenames, persistence, and URL
// publication (spec §4.7).
package screenshot

import (
	"bytes"
	"image"
	_ "image/png"
	"math"

	"github.com/browsecore/browseserver/internal/apperr"
)

const (
	minBytes          = 1024
	minDimension      = 100
	whiteRatioStride  = 10
	varianceStride    = 20
	whiteRatioMax     = 0.95
	whiteChannelFloor = 240
	minVariance       = 10.0
)

// validate rejects a screenshot if it fails any of the spec's checks: too
// small, undecodable, too small in either dimension, mostly near-white, or
// too low in channel variance (a near-blank capture).
func validate(data []byte) (width, height int, err error) {
	if len(data) < minBytes {
		return 0, 0, apperr.Newf(apperr.ScreenshotFailed, "screenshot is %d bytes, below the %d minimum", len(data), minBytes)
	}

	img, _, decErr := image.Decode(bytes.NewReader(data))
	if decErr != nil {
		return 0, 0, apperr.Wrap(apperr.ScreenshotFailed, "decode screenshot", decErr)
	}

	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()
	if width < minDimension || height < minDimension {
		return width, height, apperr.Newf(apperr.ScreenshotFailed, "screenshot is %dx%d, below the %dpx minimum", width, height, minDimension)
	}

	if ratio := whiteRatio(img, bounds); ratio >= whiteRatioMax {
		return width, height, apperr.Newf(apperr.ScreenshotFailed, "screenshot is %.0f%% near-white (likely blank)", ratio*100)
	}

	if v := channelVariance(img, bounds); v < minVariance {
		return width, height, apperr.Newf(apperr.ScreenshotFailed, "screenshot channel variance %.2f is below the %.0f minimum (likely blank)", v, minVariance)
	}

	return width, height, nil
}

func whiteRatio(img image.Image, bounds image.Rectangle) float64 {
	var total, white int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += whiteRatioStride {
		for x := bounds.Min.X; x < bounds.Max.X; x += whiteRatioStride {
			r, g, b, _ := img.At(x, y).RGBA()
			total++
			if to8(r) > whiteChannelFloor && to8(g) > whiteChannelFloor && to8(b) > whiteChannelFloor {
				white++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(white) / float64(total)
}

// channelVariance reports the population standard deviation of all sampled
// R, G, and B channel values, pooled together — a flat, low-variance image
// (solid color, blank page) reads low regardless of which channel is flat.
func channelVariance(img image.Image, bounds image.Rectangle) float64 {
	var samples []float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += varianceStride {
		for x := bounds.Min.X; x < bounds.Max.X; x += varianceStride {
			r, g, b, _ := img.At(x, y).RGBA()
			samples = append(samples, float64(to8(r)), float64(to8(g)), float64(to8(b)))
		}
	}
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var sqDiff float64
	for _, s := range samples {
		d := s - mean
		sqDiff += d * d
	}
	return math.Sqrt(sqDiff / float64(len(samples)))
}

// to8 reduces image/color's 16-bit-per-channel RGBA() output to 8-bit.
func to8(c uint32) uint8 {
	return uint8(c >> 8)
}
