package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/MrWong99/adatutor/pkg/types"
)

var (
	fenceRE  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	speechRE = regexp.MustCompile(`"speech"\s*:\s*"`)
	colorRE  = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// Parse decodes the LLM's structured response. Code fences are stripped
// first; models wrap JSON in them no matter how firmly the prompt forbids it.
// Schema-violating board actions are dropped individually, an unrecognized
// tutor state degrades to listening, and a non-JSON document is an error the
// caller treats as an empty response.
func Parse(raw string) (*types.LLMResult, error) {
	jsonStr := strings.TrimSpace(raw)
	if m := fenceRE.FindStringSubmatch(jsonStr); m != nil {
		jsonStr = m[1]
	}

	var res types.LLMResult
	if err := json.Unmarshal([]byte(jsonStr), &res); err != nil {
		return nil, fmt.Errorf("orchestrator: parse llm response: %w", err)
	}

	res.Speech = strings.TrimSpace(res.Speech)
	if !res.TutorState.IsValid() {
		res.TutorState = types.ModeListening
	}

	valid := res.BoardActions[:0]
	for _, a := range res.BoardActions {
		if err := validateAction(&a); err != nil {
			continue
		}
		valid = append(valid, a)
	}
	res.BoardActions = valid
	return &res, nil
}

// validateAction checks one board action against the wire schema.
func validateAction(a *types.BoardAction) error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Type,
			validation.Required,
			validation.In(types.ActionWrite, types.ActionUnderline, types.ActionClear)),
		validation.Field(&a.Content,
			validation.When(a.Type == types.ActionWrite, validation.Required)),
		validation.Field(&a.Format,
			validation.In(types.FormatText, types.FormatLatex)),
		validation.Field(&a.Color,
			validation.Match(colorRE)),
		validation.Field(&a.Area,
			validation.When(a.Type == types.ActionUnderline, validation.Required)),
	)
}

// extractSpeech pulls the speech field's value out of a partially streamed
// JSON document so TTS can start before the rest of the response (board
// actions, state flags) has arrived. Returns ok=false until the field's
// closing quote has streamed in.
func extractSpeech(partial string) (string, bool) {
	loc := speechRE.FindStringIndex(partial)
	if loc == nil {
		return "", false
	}
	open := loc[1] - 1 // the opening quote matched by the pattern
	i := loc[1]
	for i < len(partial) {
		switch partial[i] {
		case '\\':
			i += 2
		case '"':
			var s string
			if err := json.Unmarshal([]byte(partial[open:i+1]), &s); err != nil {
				return "", false
			}
			return strings.TrimSpace(s), true
		default:
			i++
		}
	}
	return "", false
}
