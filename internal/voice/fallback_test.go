package voice

import "testing"

func TestFallback_NeverEmpty(t *testing.T) {
	for _, reason := range []string{ReasonLettaDown, ReasonLLMTimeout, ReasonUnknown, "made_up_reason", ""} {
		text := Fallback(reason)
		if text == "" {
			t.Errorf("Fallback(%q) returned empty string", reason)
		}
		if !ValidResponse(text) {
			t.Errorf("Fallback(%q) = %q does not pass the validator", reason, text)
		}
	}
}

func TestFallback_UnknownReasonUsesCatchAll(t *testing.T) {
	if Fallback("made_up_reason") != Fallback(ReasonUnknown) {
		t.Error("unknown reasons must map to the catch-all reply")
	}
}

func TestFallback_ReasonsAreDistinct(t *testing.T) {
	if Fallback(ReasonLettaDown) == Fallback(ReasonLLMTimeout) {
		t.Error("distinct failure modes should not share a reply")
	}
}
