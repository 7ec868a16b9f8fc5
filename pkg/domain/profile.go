package domain

// VendorProfile captures the print vendor's physical constraints for one SKU.
// Min/Max bound the bindable interior page count; DefaultPageCount is the
// documented fallback when the real count cannot be measured.
type VendorProfile struct {
	SKU              string
	Type             ProjectType
	MinPageCount     int
	MaxPageCount     int
	DefaultPageCount int
	WordsPerPage     int
	// TrimWidthPt / TrimHeightPt are the page dimensions in PDF points.
	TrimWidthPt  float64
	TrimHeightPt float64
}

// Vendor catalog as published. Picture books are a fixed-length square
// format; text books are a 6x9 trade paperback.
var vendorProfiles = map[string]VendorProfile{
	"SQ-8.5-PB": {
		SKU:              "SQ-8.5-PB",
		Type:             TypePicture,
		MinPageCount:     24,
		MaxPageCount:     48,
		DefaultPageCount: 24,
		TrimWidthPt:      612,
		TrimHeightPt:     612,
	},
	"TR-6x9-BW": {
		SKU:              "TR-6x9-BW",
		Type:             TypeText,
		MinPageCount:     24,
		MaxPageCount:     800,
		DefaultPageCount: 24,
		WordsPerPage:     280,
		TrimWidthPt:      432,
		TrimHeightPt:     648,
	},
}

// ProfileForSKU looks up a vendor profile.
func ProfileForSKU(sku string) (VendorProfile, bool) {
	p, ok := vendorProfiles[sku]
	return p, ok
}
