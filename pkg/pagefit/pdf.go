package pagefit

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// CountPages measures a PDF's page count. Returns known=false when the file
// is missing or unreadable so callers can take the profile fallback.
func CountPages(path string) (count int, known bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	n, err := api.PageCount(f, nil)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// PadPDF appends blank pages after the last page of in and writes the result
// to out. The inserted pages take the dimensions of the page they follow.
func PadPDF(in, out string, blanks int) error {
	if blanks <= 0 {
		return copyFile(in, out)
	}
	current, known := CountPages(in)
	if !known {
		return fmt.Errorf("pad pdf: cannot read page count of %s", in)
	}
	src := in
	for i := 0; i < blanks; i++ {
		last := []string{strconv.Itoa(current + i)}
		if err := api.InsertPagesFile(src, out, last, false, nil, nil); err != nil {
			return fmt.Errorf("insert blank page: %w", err)
		}
		src = out
	}
	return nil
}

func copyFile(in, out string) error {
	if in == out {
		return nil
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
