package summarizer

import "strings"

// fallback compression band. When the model is unavailable we return a
// leading-sentence extract sized to the same band a model summary
// targets.
const (
	fallbackMinRatio = 0.30
	fallbackMaxRatio = 0.40
)

// FallbackSummary builds an extractive summary by taking leading
// sentences until the word count lands inside the target compression
// band. It never fails, so a degraded remote service still produces a
// usable (if crude) artifact.
func FallbackSummary(text string) string {
	plain := PlainText(text)
	sentences := splitSentences(plain)
	totalWords := len(strings.Fields(plain))

	if len(sentences) == 0 || totalWords == 0 {
		return plain
	}

	targetMin := int(float64(totalWords) * fallbackMinRatio)
	targetMax := int(float64(totalWords) * fallbackMaxRatio)
	if targetMin < 1 {
		targetMin = 1
	}

	var (
		b     strings.Builder
		words int
	)
	for _, sentence := range sentences {
		sentenceWords := len(strings.Fields(sentence))

		// Stop if adding this sentence would blow past the band
		// and we already have enough.
		if words >= targetMin && words+sentenceWords > targetMax {
			break
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
		words += sentenceWords

		if words >= targetMax {
			break
		}
	}

	if b.Len() == 0 {
		return sentences[0]
	}

	return b.String()
}

// splitSentences breaks text into sentences on terminal punctuation.
// Deliberately simple: the fallback only needs rough sentence
// boundaries, not linguistic precision.
func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)

	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Only treat as a boundary when followed by whitespace or
		// end of input, so "3.14" stays intact.
		if i+1 < len(runes) && !isSpace(runes[i+1]) {
			continue
		}

		s := strings.TrimSpace(string(runes[start : i+1]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}

	// Trailing fragment without terminal punctuation.
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}

	return sentences
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
