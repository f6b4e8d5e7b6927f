// Package model holds the types shared by every stage of a concept evaluation.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Concept is the product or campaign idea being evaluated.
type Concept struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Brand          string   `json:"brand" yaml:"brand"`
	Category       string   `json:"category" yaml:"category"`
	Description    string   `json:"description" yaml:"description"`
	Benefits       []string `json:"benefits" yaml:"benefits"`
	TargetAudience string   `json:"targetAudience" yaml:"targetAudience"`
}

// BaseProfile is the demographic core of a persona.
type BaseProfile struct {
	Age                int    `json:"age" yaml:"age"`
	Location           string `json:"location" yaml:"location"`
	Occupation         string `json:"occupation" yaml:"occupation"`
	SocioeconomicLevel string `json:"socioeconomicLevel" yaml:"socioeconomicLevel"`
}

// Persona is a synthetic consumer profile used to role-condition answers.
type Persona struct {
	ID                 string            `json:"id" yaml:"id"`
	Name               string            `json:"name" yaml:"name"`
	Archetype          string            `json:"archetype" yaml:"archetype"`
	BaseProfile        BaseProfile       `json:"baseProfile" yaml:"baseProfile"`
	Variables          Variables         `json:"variables" yaml:"variables"`
	BrandRelationships map[string]string `json:"brandRelationships,omitempty" yaml:"brandRelationships"`
}

// AdaptiveMode controls how eagerly an answer triggers extra questions.
type AdaptiveMode string

const (
	AdaptiveConservative AdaptiveMode = "conservative"
	AdaptiveModerate     AdaptiveMode = "moderate"
	AdaptiveAggressive   AdaptiveMode = "aggressive"
)

// Valid reports whether m is a recognized mode.
func (m AdaptiveMode) Valid() bool {
	switch m {
	case AdaptiveConservative, AdaptiveModerate, AdaptiveAggressive:
		return true
	}
	return false
}

// AdaptiveConfig bounds the dynamic follow-up behaviour of an interview.
type AdaptiveConfig struct {
	MaxDynamicQuestions int          `json:"maxDynamicQuestions" yaml:"maxDynamicQuestions"`
	EmotionThreshold    float64      `json:"emotionThreshold" yaml:"emotionThreshold"`
	AdaptiveMode        AdaptiveMode `json:"adaptiveMode" yaml:"adaptiveMode"`
}

// DefaultAdaptiveConfig returns the configuration used when the caller supplies none.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MaxDynamicQuestions: 2,
		EmotionThreshold:    0.6,
		AdaptiveMode:        AdaptiveModerate,
	}
}

// DynamicFollowUp is an extra exchange spawned by an answer worth probing.
type DynamicFollowUp struct {
	Trigger   string `json:"trigger"`
	Question  string `json:"question"`
	Reasoning string `json:"reasoning"`
	Priority  string `json:"priority"`
	Response  string `json:"response"`
}

// ConversationExchange is one scripted question and the persona's answer.
type ConversationExchange struct {
	Question         string            `json:"question"`
	Response         string            `json:"response"`
	WordCount        int               `json:"wordCount"`
	EmotionalTone    string            `json:"emotionalTone,omitempty"`
	KeyThemes        []string          `json:"keyThemes,omitempty"`
	DynamicFollowUps []DynamicFollowUp `json:"dynamicFollowUps,omitempty"`
	// Degraded marks an exchange whose generation call failed and holds fallback text.
	Degraded bool `json:"degraded,omitempty"`
}

// ResponseAnalysis classifies a single answer. It is never persisted.
type ResponseAnalysis struct {
	NeedsDeepDive      bool     `json:"needsDeepDive"`
	Triggers           []string `json:"triggers"`
	Emotion            string   `json:"emotion"`
	EmotionIntensity   float64  `json:"emotionIntensity"`
	Opportunities      []string `json:"opportunities"`
	Barriers           []string `json:"barriers"`
	SurprisingElements []string `json:"surprisingElements"`
}

// NeutralAnalysis is the inert result used whenever analysis fails.
func NeutralAnalysis() ResponseAnalysis {
	return ResponseAnalysis{
		Emotion:            "neutral",
		Triggers:           []string{},
		Opportunities:      []string{},
		Barriers:           []string{},
		SurprisingElements: []string{},
	}
}

// TopicInsight is a thematic finding spanning the whole transcript.
type TopicInsight struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Impact         string   `json:"impact"`
	Variations     []string `json:"variations"`
	RelevantQuotes []string `json:"relevantQuotes"`
	KeyTakeaways   []string `json:"keyTakeaways"`
	// Placeholder is set when the insight could not be generated.
	Placeholder bool `json:"placeholder,omitempty"`
}

// SurprisingInsight highlights a gap between stated intent and inferred behaviour.
type SurprisingInsight struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	StatedIntent     string `json:"statedIntent"`
	InferredBehavior string `json:"inferredBehavior"`
}

// FollowUpResearch is the suggested next research question.
type FollowUpResearch struct {
	Question  string `json:"question"`
	Rationale string `json:"rationale"`
}

// IntentBreakdown is the share of exchanges carrying each purchase-intent signal.
type IntentBreakdown struct {
	High    float64 `json:"high"`
	Medium  float64 `json:"medium"`
	Low     float64 `json:"low"`
	Signals int     `json:"signals"`
}

// ExecutiveSummary is the narrative distillation of an evaluation.
type ExecutiveSummary struct {
	Narrative         string            `json:"narrative"`
	Insights          []TopicInsight    `json:"insights"`
	SurprisingInsight SurprisingInsight `json:"surprisingInsight"`
	SuggestedFollowUp FollowUpResearch  `json:"suggestedFollowUp"`
	IntentBreakdown   IntentBreakdown   `json:"intentBreakdown"`
	// Fallback is set when the narrative was produced from the template.
	Fallback bool `json:"fallback,omitempty"`
}

// UserInformation is the persona snapshot stored with an evaluation.
type UserInformation struct {
	Name               string `json:"name"`
	Archetype          string `json:"archetype"`
	Age                int    `json:"age"`
	Location           string `json:"location"`
	Occupation         string `json:"occupation"`
	SocioeconomicLevel string `json:"socioeconomicLevel"`
}

// UserInformationFor snapshots the descriptive fields of p.
func UserInformationFor(p Persona) UserInformation {
	return UserInformation{
		Name:               p.Name,
		Archetype:          p.Archetype,
		Age:                p.BaseProfile.Age,
		Location:           p.BaseProfile.Location,
		Occupation:         p.BaseProfile.Occupation,
		SocioeconomicLevel: p.BaseProfile.SocioeconomicLevel,
	}
}

// Metadata describes how an evaluation was produced.
type Metadata struct {
	EvaluationDate time.Time `json:"evaluationDate"`
	Model          string    `json:"model"`
	Confidence     float64   `json:"confidence"`
	CoherenceScore float64   `json:"coherenceScore"`
	TopicMode      string    `json:"topicMode,omitempty"`
	Regenerated    bool      `json:"regenerated,omitempty"`
	QualityIssues  []string  `json:"qualityIssues,omitempty"`
}

// ConversationalEvaluation is the terminal aggregate for one persona and one concept.
type ConversationalEvaluation struct {
	ID               string                 `json:"id"`
	PersonaID        string                 `json:"personaId"`
	ConceptID        string                 `json:"conceptId"`
	UserInformation  UserInformation        `json:"userInformation"`
	Conversation     []ConversationExchange `json:"conversation"`
	ExecutiveSummary ExecutiveSummary       `json:"executiveSummary"`
	Metadata         Metadata               `json:"metadata"`
}

// RecomputeConfidence derives Metadata.Confidence from transcript completeness:
// 0.5 plus half the share of exchanges that are neither degraded nor shorter
// than minWords. It only ever grows as more exchanges become complete.
func (e *ConversationalEvaluation) RecomputeConfidence(minWords int) float64 {
	e.Metadata.Confidence = Confidence(e.Conversation, minWords)
	return e.Metadata.Confidence
}

// Confidence is the completeness score used by RecomputeConfidence.
func Confidence(conv []ConversationExchange, minWords int) float64 {
	if len(conv) == 0 {
		return 0
	}
	complete := 0
	for _, ex := range conv {
		if !ex.Degraded && ex.WordCount >= minWords {
			complete++
		}
	}
	return 0.5 + 0.5*float64(complete)/float64(len(conv))
}

// WordCount counts whitespace separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Transcript renders conv as interviewer/respondent lines, follow-ups
// included, in conversation order.
func Transcript(conv []ConversationExchange) string {
	var b strings.Builder
	for i, ex := range conv {
		fmt.Fprintf(&b, "Q%d: %s\n", i+1, ex.Question)
		if ex.Degraded {
			b.WriteString("A: (no answer recorded)\n")
		} else {
			fmt.Fprintf(&b, "A: %s\n", ex.Response)
		}
		for _, f := range ex.DynamicFollowUps {
			fmt.Fprintf(&b, "  Follow-up: %s\n  A: %s\n", f.Question, f.Response)
		}
	}
	return b.String()
}
