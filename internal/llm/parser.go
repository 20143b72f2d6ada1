package llm

import (
	"encoding/json"
	"strings"

	"github.com/oselz/taxon/internal/model"
)

// batchResponse is the wire shape providers are instructed to return.
type batchResponse struct {
	Suggestions []itemSuggestion `json:"suggestions"`
}

type itemSuggestion struct {
	TargetID     *string         `json:"suggested_target_id"`
	ProposedName *string         `json:"proposed_name"`
	ItemID       string          `json:"item_id"`
	Reasoning    string          `json:"reasoning"`
	Alternatives []altSuggestion `json:"alternatives"`
	Tags         []tagSuggestion `json:"tags"`
	Confidence   float64         `json:"confidence"`
}

type altSuggestion struct {
	TargetID   string  `json:"target_id"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

type tagSuggestion struct {
	TagID        *string `json:"tag_id"`
	ProposedName *string `json:"proposed_name"`
	Confidence   float64 `json:"confidence"`
}

// ParseStructuredResponse extracts suggestions from raw model output.
//
// Candidates are tried in order: the largest {...} substring, then the full
// trimmed text. Each candidate gets a direct parse, then a repair pass and a
// second parse. Returns nil only if every candidate fails both.
func ParseStructuredResponse(raw string, provider string) []model.Suggestion {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	candidates := make([]string, 0, 2)
	if block := largestJSONBlock(trimmed); block != "" {
		candidates = append(candidates, block)
	}
	if len(candidates) == 0 || candidates[0] != trimmed {
		candidates = append(candidates, trimmed)
	}

	for _, candidate := range candidates {
		if parsed := tryParse(candidate, provider); parsed != nil {
			return parsed
		}
		if repaired := RepairJSON(candidate); repaired != candidate {
			if parsed := tryParse(repaired, provider); parsed != nil {
				return parsed
			}
		}
	}
	return nil
}

func tryParse(text, provider string) []model.Suggestion {
	var resp batchResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil
	}
	if len(resp.Suggestions) == 0 {
		return nil
	}

	suggestions := make([]model.Suggestion, 0, len(resp.Suggestions))
	for _, raw := range resp.Suggestions {
		if raw.ItemID == "" {
			continue
		}

		s := model.Suggestion{
			ItemID:     raw.ItemID,
			Reasoning:  raw.Reasoning,
			Provider:   provider,
			Confidence: clampConfidence(raw.Confidence),
		}
		if raw.TargetID != nil && *raw.TargetID != "" {
			s.TargetID = raw.TargetID
		}
		if raw.ProposedName != nil && strings.TrimSpace(*raw.ProposedName) != "" {
			name := strings.TrimSpace(*raw.ProposedName)
			s.ProposedName = &name
		}
		for _, alt := range raw.Alternatives {
			if alt.TargetID == "" {
				continue
			}
			s.Alternatives = append(s.Alternatives, model.Alternative{
				TargetID:   alt.TargetID,
				Reasoning:  alt.Reasoning,
				Confidence: clampConfidence(alt.Confidence),
			})
		}
		for _, tag := range raw.Tags {
			candidate := model.TagCandidate{Confidence: clampConfidence(tag.Confidence)}
			if tag.TagID != nil && *tag.TagID != "" {
				candidate.TagID = tag.TagID
			}
			if tag.ProposedName != nil && strings.TrimSpace(*tag.ProposedName) != "" {
				name := strings.TrimSpace(*tag.ProposedName)
				candidate.ProposedName = &name
			}
			if candidate.TagID == nil && candidate.ProposedName == nil {
				continue
			}
			s.Tags = append(s.Tags, candidate)
		}

		suggestions = append(suggestions, s)
	}

	if len(suggestions) == 0 {
		return nil
	}
	return suggestions
}

// largestJSONBlock returns the widest substring spanning the first '{' to
// the last '}', or "" if no braces are present.
func largestJSONBlock(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
