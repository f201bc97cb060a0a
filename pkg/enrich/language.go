package enrich

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LinguaDetector detects languages with lingua's statistical models.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds a detector over languages, or over every
// supported language when fewer than two are given. Low accuracy mode
// keeps the loaded models small.
func NewLinguaDetector(languages ...lingua.Language) *LinguaDetector {
	if len(languages) >= 2 {
		return &LinguaDetector{detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			WithLowAccuracyMode().
			Build()}
	}
	return &LinguaDetector{detector: lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		WithLowAccuracyMode().
		Build()}
}

// Detect returns the lower-case ISO 639-1 code of text's language, or ""
// when no language is reliably detected.
func (d *LinguaDetector) Detect(text string) string {
	language, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(language.IsoCode639_1().String())
}
