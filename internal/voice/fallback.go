package voice

// Fallback reasons, keyed by what broke.
const (
	ReasonLettaDown  = "letta_down"
	ReasonLLMTimeout = "llm_timeout"
	ReasonUnknown    = "unknown"
)

var fallbackCatalog = map[string]string{
	ReasonLettaDown:  "I'm having trouble reaching my memory right now. Give me a moment and ask me again.",
	ReasonLLMTimeout: "That took longer than it should have. Could you say that again?",
	ReasonUnknown:    "Something went wrong on my end. Let's try that once more.",
}

// Fallback returns the guaranteed user-safe reply for an error context. The
// contract is hard: it never returns an empty string, so no path out of the
// LLM node can leave the user without an answer.
func Fallback(reason string) string {
	if text, ok := fallbackCatalog[reason]; ok {
		return text
	}
	return fallbackCatalog[ReasonUnknown]
}
