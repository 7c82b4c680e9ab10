package model

import "testing"

func TestValidateBarcode(t *testing.T) {
	tests := []struct {
		barcode string
		wantErr bool
	}{
		{"B000001", false},
		{"B012345", false},
		{"LIB0004321", false},
		{"", true},
		{"000001", true},     // missing prefix
		{"B1", true},         // not zero-padded width
		{"b000001", true},    // lowercase prefix
		{"B00001X", true},    // trailing letter
		{"B 000001", true},   // embedded space
	}

	for _, tt := range tests {
		err := ValidateBarcode(tt.barcode)
		if tt.wantErr && err == nil {
			t.Errorf("ValidateBarcode(%q): expected error, got nil", tt.barcode)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("ValidateBarcode(%q): unexpected error: %v", tt.barcode, err)
		}
	}
}

func TestNormalizeBarcode(t *testing.T) {
	if got := NormalizeBarcode("  b000001 "); got != "B000001" {
		t.Errorf("NormalizeBarcode: got %q, want B000001", got)
	}
}
