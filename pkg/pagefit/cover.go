package pagefit

import "fablepress/pkg/domain"

// spineBand maps an interior page-count band to the vendor's published
// spine width. Bands are inclusive of MaxPages; the table must be ordered.
type spineBand struct {
	MaxPages int
	WidthPt  float64
}

// Vendor spine table for perfect-bound books.
var spineBands = []spineBand{
	{MaxPages: 48, WidthPt: 7.2},
	{MaxPages: 84, WidthPt: 12.6},
	{MaxPages: 140, WidthPt: 18.0},
	{MaxPages: 200, WidthPt: 25.2},
	{MaxPages: 300, WidthPt: 36.0},
	{MaxPages: 450, WidthPt: 50.4},
	{MaxPages: 600, WidthPt: 64.8},
	{MaxPages: 800, WidthPt: 82.8},
}

// SpineWidthPt returns the spine width for a reconciled interior page count.
// The step function is keyed by page-count bands, so the interior must be
// reconciled before the cover can be sized.
func SpineWidthPt(pages int) float64 {
	for _, band := range spineBands {
		if pages <= band.MaxPages {
			return band.WidthPt
		}
	}
	return spineBands[len(spineBands)-1].WidthPt
}

// CoverSpread holds the flat cover dimensions: back + spine + front.
type CoverSpread struct {
	WidthPt  float64
	HeightPt float64
	SpinePt  float64
}

// SizeCover computes the cover spread for a reconciled interior result.
// Taking a Result rather than a raw count enforces the ordering dependency:
// the interior must be reconciled first.
func SizeCover(interior Result, p domain.VendorProfile) CoverSpread {
	spine := SpineWidthPt(interior.FinalPageCount)
	return CoverSpread{
		WidthPt:  2*p.TrimWidthPt + spine,
		HeightPt: p.TrimHeightPt,
		SpinePt:  spine,
	}
}
