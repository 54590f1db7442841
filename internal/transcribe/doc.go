// Package transcribe routes clips between the low-latency and batched
// decode paths, applies the punctuation-priming prompt, and degrades
// gracefully when alignment is unavailable. Each call is one attempt;
// the retry layer decides whether to try again.
package transcribe
