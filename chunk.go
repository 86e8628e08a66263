package chunkval

import "strings"

// SplitDocument packs whole sentences into chunks of at most maxTokens
// whitespace separated tokens. Sentences longer than maxTokens are cut.
func SplitDocument(document string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokensPerChunk
	}
	var chunks []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
		}
	}
	for _, sentence := range sentences(document) {
		if len(current)+len(sentence) > maxTokens {
			flush()
		}
		for len(sentence) > maxTokens {
			chunks = append(chunks, strings.Join(sentence[:maxTokens], " "))
			sentence = sentence[maxTokens:]
		}
		current = append(current, sentence...)
	}
	flush()
	return chunks
}

func sentences(document string) [][]string {
	var out [][]string
	var current []string
	for _, word := range strings.Fields(document) {
		current = append(current, word)
		if strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?") {
			out = append(out, current)
			current = nil
		}
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}
