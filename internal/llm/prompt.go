package llm

const SystemPrompt = "You are an expert at extracting structured data from invoice documents. " +
	"Extract the requested information accurately."

// BuildUserPrompt returns the document text, cut to maxChars runes when maxChars > 0.
func BuildUserPrompt(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars])
}
