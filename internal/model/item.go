package model

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// barcodePattern matches an alphabetic prefix followed by zero-padded digits,
// e.g. "B000001".
var barcodePattern = regexp.MustCompile(`^[A-Z]+[0-9]{6,}$`)

// Item is a physical cataloged object identified by its barcode. The
// bibliographic seed fields come from the local catalog extraction and are
// asserted as facts by the batch driver before any external lookup runs.
type Item struct {
	Barcode    string `json:"barcode"`
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
	ISBN       string `json:"isbn,omitempty"`
	CallNumber string `json:"call_number,omitempty"`
}

// ValidateBarcode checks that a barcode has the expected shape: an uppercase
// alphabetic prefix and a fixed-width, zero-padded numeric suffix.
func ValidateBarcode(barcode string) error {
	if barcode == "" {
		return eris.New("barcode is empty")
	}
	if !barcodePattern.MatchString(barcode) {
		return eris.Errorf("invalid barcode %q: want alphabetic prefix followed by zero-padded digits", barcode)
	}
	return nil
}

// NormalizeBarcode trims whitespace and upper-cases the alphabetic prefix so
// that scanner input and CSV input agree.
func NormalizeBarcode(barcode string) string {
	return strings.ToUpper(strings.TrimSpace(barcode))
}
