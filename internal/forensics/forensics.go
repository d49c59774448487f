/**
 * @description
 * This package computes the forensic signature of a submitted screenshot:
 * a 64-bit perceptual hash, pixel dimensions and format, and two heuristic
 * flags (likely screenshot, possible manipulation) derived from capture
 * metadata and known mobile-screen resolutions.
 *
 * @dependencies
 * - github.com/disintegration/imaging: decode, grayscale, and Lanczos
 *   downsampling for the hash grid.
 *
 * @notes
 * - The perceptual hash is an average hash over an 8x8 greyscale grid: each
 *   cell contributes one bit by comparison against the grid's mean intensity.
 *   It is robust to re-encoding and mild resizing, which is exactly how reused
 *   screenshots tend to differ from their first submission.
 * - Similarity between two hashes is the normalized Hamming distance
 *   (bit differences / 64). Zero means duplicate; small distances mean a
 *   near-duplicate that was cropped, recompressed, or lightly edited.
 */

package forensics

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math/bits"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/padala/verification-service/internal/domain"
)

const hashGridSize = 8 // 8x8 grid, 64 bits

// exifMarker is the APP1 identifier embedded by real camera captures. Screen
// captures and editor exports almost never carry it.
var exifMarker = []byte("Exif\x00\x00")

// commonScreenSizes lists portrait resolutions of widespread phone models.
// A screenshot taken on a phone matches one of these exactly.
var commonScreenSizes = map[[2]int]bool{
	{720, 1280}:  true,
	{720, 1600}:  true,
	{750, 1334}:  true,
	{828, 1792}:  true,
	{1080, 1920}: true,
	{1080, 2340}: true,
	{1080, 2400}: true,
	{1125, 2436}: true,
	{1170, 2532}: true,
	{1179, 2556}: true,
	{1284, 2778}: true,
	{1290, 2796}: true,
	{1440, 2960}: true,
	{1440, 3200}: true,
}

// Analyze decodes the image bytes and produces its forensic signature.
func Analyze(data []byte) (*domain.ForensicsResult, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	result := &domain.ForensicsResult{
		PerceptualHash:     PerceptualHash(img),
		Width:              cfg.Width,
		Height:             cfg.Height,
		Format:             format,
		HasAlpha:           hasAlphaModel(cfg.ColorModel),
		HasCaptureMetadata: bytes.Contains(data, exifMarker),
	}

	knownScreen := commonScreenSizes[[2]int{cfg.Width, cfg.Height}]

	// Absence of capture metadata is the screenshot tell: phones strip EXIF
	// from screen captures but keep it on camera photos. The same absence on
	// unusual dimensions instead suggests the image was cropped or rebuilt.
	result.LikelyScreenshot = !result.HasCaptureMetadata && knownScreen
	result.PossibleManipulation = !result.HasCaptureMetadata && !knownScreen

	return result, nil
}

// PerceptualHash computes the 64-bit average hash of an image, encoded as a
// fixed-width 16-character hex string.
func PerceptualHash(img image.Image) string {
	small := imaging.Resize(imaging.Grayscale(img), hashGridSize, hashGridSize, imaging.Lanczos)

	var sum uint64
	var values [hashGridSize * hashGridSize]uint64
	for y := 0; y < hashGridSize; y++ {
		for x := 0; x < hashGridSize; x++ {
			c := small.NRGBAAt(x, y)
			// Grayscale image: R, G and B are equal.
			v := uint64(c.R)
			values[y*hashGridSize+x] = v
			sum += v
		}
	}
	mean := sum / (hashGridSize * hashGridSize)

	var hash uint64
	for i, v := range values {
		if v > mean {
			hash |= 1 << uint(63-i)
		}
	}
	return fmt.Sprintf("%016x", hash)
}

// HashDistance returns the normalized Hamming distance between two hashes
// produced by PerceptualHash: bit differences divided by total bits, in [0, 1].
// Malformed hashes compare as maximally distant.
func HashDistance(a, b string) float64 {
	ha, errA := strconv.ParseUint(a, 16, 64)
	hb, errB := strconv.ParseUint(b, 16, 64)
	if errA != nil || errB != nil {
		return 1.0
	}
	return float64(bits.OnesCount64(ha^hb)) / 64.0
}

// IsSimilar reports whether two hashes are within the given normalized
// distance. A distance of exactly zero is an exact perceptual duplicate.
func IsSimilar(a, b string, threshold float64) bool {
	return HashDistance(a, b) <= threshold
}

func hasAlphaModel(model color.Model) bool {
	switch model {
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	return false
}
