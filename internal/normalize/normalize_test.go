package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Hobbit", "Hobbit, The"},
		{"A Wrinkle in Time", "Wrinkle in Time, A"},
		{"An Unquiet Mind", "Unquiet Mind, An"},
		{"Dune", "Dune"},
		{"Theater of War", "Theater of War"}, // "The" must be a whole word
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanTitle(tt.in), "CleanTitle(%q)", tt.in)
	}
}

func TestCapitalizeTitleMLA(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"the old man and the sea", "The Old Man and the Sea"},
		{"a tale of two cities", "A Tale of Two Cities"},
		{"of mice and men", "Of Mice and Men"},
		{"what we talk about when we talk about love", "What We Talk About When We Talk About Love"},
		{"up", "Up"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CapitalizeTitleMLA(tt.in), "CapitalizeTitleMLA(%q)", tt.in)
	}
}

func TestCleanAuthor(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tolkien,J. R. R.", "Tolkien, J. R. R."},
		{"  Le Guin ,  Ursula K. ", "Le Guin, Ursula K."},
		{"Homer", "Homer"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanAuthor(tt.in), "CleanAuthor(%q)", tt.in)
	}
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"c1987.", "1987"},
		{"2001-2003", "2001"},
		{"[1999], ©2004", "1999"},
		{"published 1699", ""}, // below plausible range
		{"n.d.", ""},
		{"2024", "2024"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractYear(tt.in), "ExtractYear(%q)", tt.in)
	}
}

func TestSafeQueryTerm(t *testing.T) {
	assert.Equal(t, "Treasures: A Novel", SafeQueryTerm(`Treasures: A Novel!?`))
	assert.Equal(t, "OBrien, Tim", SafeQueryTerm("O'Brien, Tim"))
}

func TestCleanCallNumber(t *testing.T) {
	assert.Equal(t, "PS3563.O8749", CleanCallNumber("  PS3563.O8749 ; "))
	assert.Equal(t, "813.54 M", CleanCallNumber("813.54   M/"))
}

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Treasures: A Novel!", "treasures a novel"},
		{"  TREASURES — a   novel  ", "treasures a novel"},
		{"Brontë, Emily", "bronte emily"},
		{"978-0-316-76948-8", "9780316769488"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), "Fold(%q)", tt.in)
	}
}

func TestLCCToDDC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PS3563.O8749", "FIC"},
		{"PZ7.R79835", "FIC"},
		{"FIC", "FIC"},
		{"QA76.73", "510-519"},
		{"Q180", "500-509"},
		{"TX714", "640-649"},
		{"XX999", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LCCToDDC(tt.in), "LCCToDDC(%q)", tt.in)
	}
}
