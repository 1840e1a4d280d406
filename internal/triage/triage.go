// Package triage maps a submitted disease and description to a request priority.
package triage

import (
	"strings"
	"unicode"

	"github.com/jwalitptl/nurse-call-api/internal/model"
)

// Rule lists keyword bands checked from most to least urgent.
type Rule struct {
	bands []band
}

type band struct {
	priority model.Priority
	keywords []string
}

// DefaultRule is the ward triage table. Anything unmatched is low.
func DefaultRule() *Rule {
	return &Rule{bands: []band{
		{model.PriorityCritical, []string{
			"chest pain", "heart attack", "cardiac", "stroke", "not breathing",
			"difficulty breathing", "shortness of breath", "breathless", "choking",
			"unconscious", "unresponsive", "seizure", "severe bleeding", "emergency",
		}},
		{model.PriorityHigh, []string{
			"high fever", "fracture", "fall", "fell", "severe pain", "vomiting blood",
			"allergic", "burn", "asthma", "low blood sugar", "hypoglycemia", "bleeding",
		}},
		{model.PriorityMedium, []string{
			"fever", "vomiting", "nausea", "diarrhea", "dizziness", "headache",
			"pain", "infection", "cough", "dehydration",
		}},
	}}
}

// Assess returns the priority for a submission. Keywords match whole words,
// allowing a plural or past-tense ending, so "burns" matches burn but
// "heartburn" does not.
func (r *Rule) Assess(disease, description string) model.Priority {
	text := words(disease + " " + description)
	for _, b := range r.bands {
		for _, kw := range b.keywords {
			if containsPhrase(text, words(kw)) {
				return b.priority
			}
		}
	}
	return model.PriorityLow
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func containsPhrase(text, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(text); i++ {
		matched := true
		for j, kw := range phrase {
			if !matchWord(text[i+j], kw) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func matchWord(word, kw string) bool {
	if !strings.HasPrefix(word, kw) {
		return false
	}
	switch word[len(kw):] {
	case "", "s", "es", "ed", "ing":
		return true
	}
	return false
}
