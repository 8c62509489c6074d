package phash

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / w)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func checkerImage(w, h, cell int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestCompute_IdenticalImagesMatch(t *testing.T) {
	a := gradientImage(64, 64)
	b := gradientImage(64, 64)
	ha, hb := Compute(a), Compute(b)
	if ha != hb {
		t.Fatalf("identical images hashed differently: %x vs %x", ha, hb)
	}
	if Similarity(ha, hb) != 1.0 {
		t.Fatalf("similarity of identical hashes = %f", Similarity(ha, hb))
	}
}

func TestCompute_DissimilarImagesDiffer(t *testing.T) {
	a := gradientImage(64, 64)
	b := checkerImage(64, 64, 4)
	ha, hb := Compute(a), Compute(b)
	if IsDuplicate(ha, hb, 0.92) {
		t.Fatalf("gradient and checkerboard should not be near-duplicates: similarity=%f", Similarity(ha, hb))
	}
}

func TestCompute_SolidImagesAreIdentical(t *testing.T) {
	a := solidImage(32, 32, color.RGBA{10, 10, 10, 255})
	b := solidImage(32, 32, color.RGBA{10, 10, 10, 255})
	if Compute(a) != Compute(b) {
		t.Fatal("identical solid images should hash identically")
	}
}

func TestHammingDistance(t *testing.T) {
	if d := HammingDistance(0, 0); d != 0 {
		t.Fatalf("distance of equal hashes = %d", d)
	}
	if d := HammingDistance(0, 0xFFFFFFFFFFFFFFFF); d != 64 {
		t.Fatalf("distance of complementary hashes = %d", d)
	}
}

type candidate struct {
	id    int
	hash  uint64
	score float64
}

func TestDedup_KeepsHigherScoredOfDuplicateCluster(t *testing.T) {
	items := []candidate{
		{id: 1, hash: 0b1010101010, score: 90},
		{id: 2, hash: 0b1010101011, score: 70}, // 1 bit off from #1: near-duplicate
		{id: 3, hash: 0b0101010101, score: 80}, // far from both
	}
	kept := Dedup(items, func(c candidate) uint64 { return c.hash }, func(c candidate) float64 { return c.score }, 0.92)
	if len(kept) != 2 {
		t.Fatalf("expected 2 survivors, got %d: %+v", len(kept), kept)
	}
	ids := map[int]bool{}
	for _, k := range kept {
		ids[k.id] = true
	}
	if !ids[1] || !ids[3] {
		t.Fatalf("expected candidates 1 and 3 to survive, got %+v", kept)
	}
	if ids[2] {
		t.Fatal("candidate 2 (lower-scored near-duplicate of 1) should have been suppressed")
	}
}
