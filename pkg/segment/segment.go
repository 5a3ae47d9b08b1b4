// Package segment provides incremental sentence segmentation for pacing text
// delivery into a streaming speech synthesizer.
//
// Text arrives as arbitrary deltas from an upstream token stream. Sending every
// delta to the synthesizer individually produces choppy prosody, while waiting
// for the full response adds seconds of latency. The segmenter splits a growing
// buffer at sentence boundaries so each complete sentence can be synthesized as
// soon as it is available, and the unterminated tail is carried forward.
package segment

// Extract splits buffer into complete sentences and the unterminated remainder.
//
// A sentence boundary is a '.', '!' or '?' immediately followed by at least one
// whitespace character, or sitting on the final byte of the buffer. The
// boundary punctuation is included in the returned sentence; the whitespace
// between sentences is consumed, as is whitespace leading the buffer. Text
// after the last boundary (including a buffer containing no boundary at all)
// is returned unchanged as the remainder — it is never flushed early, so
// callers must emit the final fragment themselves when the upstream stream
// ends.
//
// Extract is pure and idempotent: appending new text to a previous remainder
// and re-running yields the same total sentence sequence as a single run over
// the full concatenated text. Dropping leading whitespace keeps that promise
// when a buffer ends exactly on a terminator: the next buffer then starts with
// the inter-sentence whitespace a single batch run would have consumed.
func Extract(buffer string) (sentences []string, remainder string) {
	start := 0
	for start < len(buffer) && isSpace(buffer[start]) {
		start++
	}
	for i := start; i < len(buffer)-1; i++ {
		if !isTerminator(buffer[i]) || !isSpace(buffer[i+1]) {
			continue
		}
		sentences = append(sentences, buffer[start:i+1])
		// Consume the whitespace run separating the sentences.
		i++
		for i < len(buffer) && isSpace(buffer[i]) {
			i++
		}
		start = i
		i-- // loop increment lands on the first byte of the next sentence
	}
	remainder = buffer[start:]
	if n := len(remainder); n > 0 && isTerminator(remainder[n-1]) {
		sentences = append(sentences, remainder)
		remainder = ""
	}
	return sentences, remainder
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
