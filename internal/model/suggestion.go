package model

// Alternative is a runner-up target a provider also considered plausible.
type Alternative struct {
	TargetID   string
	Reasoning  string
	Confidence float64
}

// Suggestion is one provider's proposed classification for one item.
//
// Exactly one of TargetID or ProposedName is meaningful: TargetID present
// means the provider matched an existing taxonomy entry; TargetID absent
// with ProposedName present means no existing entry fits and the provider
// recommends a new label for human review.
// For the tagging variant, Tags carries the per-candidate-tag breakdown and
// Confidence is the provider's overall confidence for the set.
type Suggestion struct {
	TargetID     *string
	TargetName   *string
	ProposedName *string
	ItemID       string
	Reasoning    string
	Provider     string
	Alternatives []Alternative
	Tags         []TagCandidate
	Confidence   float64
}

// MatchesExisting reports whether the suggestion resolved to an existing
// taxonomy entry rather than proposing a new one.
func (s *Suggestion) MatchesExisting() bool {
	return s.TargetID != nil && *s.TargetID != ""
}

// HasProposal reports whether the suggestion carries a proposed new target
// name instead of an existing match.
func (s *Suggestion) HasProposal() bool {
	return !s.MatchesExisting() && s.ProposedName != nil && *s.ProposedName != ""
}

// TagCandidate is one candidate tag within a tagging Suggestion.
type TagCandidate struct {
	TagID        *string
	ProposedName *string
	Confidence   float64
}
