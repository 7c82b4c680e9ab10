package normalize

import "strings"

// fictionLCCPrefixes are the LC literature classes shelved as fiction.
var fictionLCCPrefixes = []string{"PZ", "PQ", "PR", "PS", "PT"}

// lccToDDC maps LC class prefixes to Dewey ranges. Longest prefix wins.
var lccToDDC = map[string]string{
	"AC": "080-089", "AE": "030-039", "AY": "031-032",
	"B": "100-109", "BC": "160-169", "BD": "110-119", "BF": "150-159",
	"BJ": "170-179", "BL": "200-299", "BR": "200-299", "BS": "200-299",
	"BX": "200-299",
	"CB": "909", "CC": "930-939", "CT": "920-929",
	"D": "909", "DA": "940-999", "DC": "940-999", "DD": "940-999",
	"DK": "940-999", "DS": "940-999", "DT": "940-999",
	"E": "970-979", "F": "973-999",
	"G": "910-919", "GN": "301-309", "GR": "398", "GT": "390-399",
	"GV": "790-799",
	"H": "300-309", "HA": "310-319", "HB": "330-339", "HC": "330-339",
	"HD": "330-339", "HE": "380-389", "HF": "330-339", "HG": "330-339",
	"HM": "301-309", "HQ": "301-309", "HV": "301-309",
	"J": "320", "JC": "320.1-320.5", "JK": "320-329",
	"K": "340", "KF": "340-349",
	"L": "370", "LA": "370-375", "LB": "370-375", "LC": "371-379",
	"M": "780", "ML": "780.9", "MT": "781-789",
	"N": "700-709", "NA": "720-729", "NC": "740-749", "ND": "750-759",
	"P": "400-409", "PA": "480-489", "PE": "420-429", "PN": "800-809",
	"Q": "500-509", "QA": "510-519", "QB": "520-529", "QC": "530-539",
	"QD": "540-549", "QE": "550-559", "QH": "570-579", "QK": "580-589",
	"QL": "590-599", "QP": "612",
	"R": "610", "RA": "613-614", "RC": "616", "RJ": "618.92",
	"S": "630", "SB": "635", "SF": "636",
	"T": "600-609", "TA": "620-629", "TK": "621.3", "TL": "629",
	"TR": "770-779", "TX": "640-649",
	"U": "355", "V": "359",
	"Z": "010-029",
}

// LCCToDDC converts an LC call number to a Dewey range, or "FIC" for the
// literature classes shelved as fiction. Unknown prefixes return "".
func LCCToDDC(lcc string) string {
	lcc = strings.ToUpper(strings.TrimSpace(lcc))
	if lcc == "" {
		return ""
	}
	if lcc == "FIC" {
		return "FIC"
	}
	for _, p := range fictionLCCPrefixes {
		if strings.HasPrefix(lcc, p) {
			return "FIC"
		}
	}

	// Longest matching alphabetic prefix wins (e.g. "QA" before "Q").
	prefix := leadingAlpha(lcc)
	for len(prefix) > 0 {
		if ddc, ok := lccToDDC[prefix]; ok {
			return ddc
		}
		prefix = prefix[:len(prefix)-1]
	}
	return ""
}

func leadingAlpha(s string) string {
	for i, r := range s {
		if r < 'A' || r > 'Z' {
			return s[:i]
		}
	}
	return s
}
