// Package extract contains pure field extractors for product-card text.
//
// Every extractor follows the same contract: given possibly-empty raw text
// it returns a typed value and an ok flag. Malformed or absent input yields
// (zero, false), never an error.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceRe  = regexp.MustCompile(`\$\s*([0-9]+(?:\.[0-9]{1,2})?)(?:[^0-9.]|$)`)
	sizeRe   = regexp.MustCompile(`(?i)\b([0-9]+(?:\.[0-9]+)?)\s*([a-z]+)\b`)
	thcRe    = regexp.MustCompile(`(?i)\bthc\b`)
	pctRe    = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*%`)
	strainRe = regexp.MustCompile(`(?i)\b(indica|sativa|hybrid)\b`)
)

// thcWindow bounds how far after a THC token the percent value may start.
const thcWindow = 20

// unit factors to grams.
var gramFactors = map[string]float64{
	"g":     1,
	"gram":  1,
	"grams": 1,
	"oz":    28.3495,
	"mg":    0.001,
}

// Price returns the first currency-prefixed decimal in text. Values without
// a dollar sign, non-positive values, and numbers with trailing digit noise
// are rejected.
func Price(text string) (float64, bool) {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// THCPercent finds a percentage stated near a THC token. The number must
// start within a short window after the token and fall inside [0,100].
func THCPercent(text string) (float64, bool) {
	for _, loc := range thcRe.FindAllStringIndex(text, -1) {
		end := loc[1] + thcWindow
		if end > len(text) {
			end = len(text)
		}
		m := pctRe.FindStringSubmatch(text[loc[1]:end])
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < 0 || v > 100 {
			continue
		}
		return v, true
	}
	return 0, false
}

// Size returns the first number-plus-unit token in text, e.g. "3.5g".
// The unit is not validated here so unparsable sizes still retain their
// original text; Grams decides whether the unit converts.
func Size(text string) (string, bool) {
	m := sizeRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1] + m[2]), true
}

// Grams converts a size token to grams using fixed unit factors.
// Unknown units yield (0, false).
func Grams(size string) (float64, bool) {
	m := sizeRe.FindStringSubmatch(size)
	if m == nil {
		return 0, false
	}
	factor, ok := gramFactors[strings.ToLower(m[2])]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v * factor, true
}

// Strain matches text against the fixed strain vocabulary. Unmatched
// non-empty text reports ("unknown", true); empty input reports absent so
// callers can distinguish "not stated" from "stated but unmapped".
func Strain(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	m := strainRe.FindStringSubmatch(text)
	if m == nil {
		return "unknown", true
	}
	return strings.ToLower(m[1]), true
}

// Brand returns the first line-like segment of the fragment's brand text.
func Brand(text string) (string, bool) {
	for _, line := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '|'
	}) {
		if trimmed := strings.Join(strings.Fields(line), " "); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}
