// Package phash implements the Perceptual-Hash Deduper (spec §4.B):
// compute a 64-bit DCT-based perceptual hash per image, and filter
// near-duplicates by Hamming distance. Grounded on the teacher's
// internal/fingerprint/fingerprint.go (fixed-size hash output,
// deterministic regardless of partial failure) but operates on a
// single still image rather than sampled video keyframes, and uses a
// real 2D DCT rather than ffmpeg frame extraction since there is no
// video to sample.
package phash

import (
	"image"
	"math"
	"math/bits"
	"sort"
)

// hashSize is the edge length of the resized greyscale image (spec
// §4.B "resize to 32x32").
const hashSize = 32

// lowFreq is the edge length of the low-frequency DCT block kept for
// hashing (8x8, spec §4.B "64-bit perceptual hash"). The DC term is
// skipped, so 63 of the hash's 64 bits carry data; the top bit is 0.
const lowFreq = 8

// Compute resizes img to 32x32 greyscale, runs a 2D DCT, and derives a
// 64-bit hash from the sign of the 8x8 low-frequency coefficients,
// DC term excluded, relative to their median (spec §4.B).
func Compute(img image.Image) uint64 {
	gray := toGrayscale(resize(img, hashSize, hashSize))
	coeffs := dct2D(gray)

	// Drop the DC term (coeffs[0][0]): it reflects overall brightness,
	// not structure, and would bias every hash toward the same bit.
	vals := make([]float64, 0, lowFreq*lowFreq-1)
	for y := 0; y < lowFreq; y++ {
		for x := 0; x < lowFreq; x++ {
			if x == 0 && y == 0 {
				continue
			}
			vals = append(vals, coeffs[y][x])
		}
	}
	median := medianOf(vals)

	var hash uint64
	bit := uint(0)
	for y := 0; y < lowFreq; y++ {
		for x := 0; x < lowFreq; x++ {
			if x == 0 && y == 0 {
				continue
			}
			if coeffs[y][x] > median {
				hash |= 1 << bit
			}
			bit++
		}
	}
	return hash
}

// HammingDistance returns the number of differing bits between two
// hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similarity converts a Hamming distance into the [0,1] similarity
// score spec §4.B expresses thresholds in ("similarity >= config.
// phash_threshold (default 0.92 => ~5 bit differences)").
func Similarity(a, b uint64) float64 {
	return 1.0 - float64(HammingDistance(a, b))/64.0
}

// IsDuplicate reports whether a and b are near-duplicates under
// threshold (spec §4.B).
func IsDuplicate(a, b uint64, threshold float64) bool {
	return Similarity(a, b) >= threshold
}

// Dedup keeps the highest-scored representative of each near-duplicate
// cluster in items, per spec §4.B "Deduplication always keeps the
// higher-scored member" and §4.G.4. Items are generic so the scoring
// package can reuse this over []models.AssetCandidate without phash
// importing models.
func Dedup[T any](items []T, hash func(T) uint64, score func(T) float64, threshold float64) []T {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return score(items[order[i]]) > score(items[order[j]])
	})

	var kept []T
	var keptHashes []uint64
	for _, idx := range order {
		h := hash(items[idx])
		dup := false
		for _, kh := range keptHashes {
			if IsDuplicate(h, kh, threshold) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, items[idx])
		keptHashes = append(keptHashes, h)
	}
	return kept
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// resize scales img to w x h by nearest-neighbor sampling: each output
// value is the luminance of a single source pixel.
func resize(img image.Image, w, h int) [][]float64 {
	bounds := img.Bounds()
	sw, sh := bounds.Dx(), bounds.Dy()
	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			srcX := bounds.Min.X + x*sw/w
			srcY := bounds.Min.Y + y*sh/h
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			out[y][x] = lum
		}
	}
	return out
}

// toGrayscale is a no-op placeholder kept for readability at the call
// site: resize already produces luminance values.
func toGrayscale(g [][]float64) [][]float64 { return g }

// dct2D computes a 2D type-II DCT of an NxN matrix.
func dct2D(mat [][]float64) [][]float64 {
	n := len(mat)
	tmp := make([][]float64, n)
	for i := range tmp {
		tmp[i] = make([]float64, n)
	}
	// Rows
	for y := 0; y < n; y++ {
		tmp[y] = dct1D(mat[y])
	}
	// Columns
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	col := make([]float64, n)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = tmp[y][x]
		}
		res := dct1D(col)
		for y := 0; y < n; y++ {
			out[y][x] = res[y]
		}
	}
	return out
}

// dct1D computes a 1D type-II DCT of a vector of length n.
func dct1D(v []float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += v[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		alpha := 1.0
		if k == 0 {
			alpha = 1.0 / math.Sqrt2
		}
		out[k] = sum * alpha * math.Sqrt(2.0/float64(n))
	}
	return out
}
