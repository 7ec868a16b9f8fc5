// Package pagefit reconciles generated content length against the print
// vendor's physical page constraints. Reconcile is pure; PadPDF materializes
// the padding it decides on.
package pagefit

import (
	"fablepress/pkg/domain"
)

// Result is the outcome of reconciling a raw page count against a profile.
type Result struct {
	// FinalPageCount is even, >= MinPageCount, and <= MaxPageCount.
	FinalPageCount int
	// PaddedPages is how many blank pages must be appended to the artifact.
	PaddedPages int
	// Padded reports whether any blank pages were required.
	Padded bool
	// Fallback reports that the raw count was unavailable and the profile
	// default was used instead. Callers must record this on the order.
	Fallback bool
}

// Reconcile computes a vendor-compliant final page count. count is the raw
// interior page count; known is false when it could not be measured.
//
// Rules, in order: unknown counts fall back to the profile default; short
// interiors are padded up to the minimum; odd counts get one more blank page
// because binding requires an even signature; a final count over the maximum
// is rejected rather than truncated.
func Reconcile(count int, known bool, p domain.VendorProfile) (Result, error) {
	res := Result{}
	if !known || count <= 0 {
		count = p.DefaultPageCount
		res.Fallback = true
	}
	final := count
	if final < p.MinPageCount {
		final = p.MinPageCount
	}
	if final%2 != 0 {
		final++
	}
	if p.MaxPageCount > 0 && final > p.MaxPageCount {
		return Result{}, domain.Ef(domain.KindPageBudget,
			"page count %d exceeds vendor maximum %d", final, p.MaxPageCount)
	}
	res.FinalPageCount = final
	res.PaddedPages = final - count
	res.Padded = res.PaddedPages > 0
	return res, nil
}
