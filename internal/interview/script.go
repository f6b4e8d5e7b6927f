// Package interview runs the adaptive persona interview: the question
// library, its moderator review, persona conditioning, and the turn loop with
// its analyzer and dynamic follow-ups.
package interview

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/apresai/conceptlab/internal/model"
	"gopkg.in/yaml.v3"
)

// Question is one open-ended script entry with its tone-conditioned follow-ups.
type Question struct {
	ID               string `json:"id" yaml:"id"`
	Base             string `json:"base" yaml:"base"`
	FollowUpPositive string `json:"followUpPositive" yaml:"followUpPositive"`
	FollowUpNegative string `json:"followUpNegative" yaml:"followUpNegative"`
}

// Placeholders recognized in question text.
const (
	PlaceholderConceptName    = "{conceptName}"
	PlaceholderBrand          = "{brand}"
	PlaceholderCategory       = "{category}"
	PlaceholderBenefits       = "{benefits}"
	PlaceholderTargetAudience = "{targetAudience}"
)

var defaultScript = []Question{
	{
		ID:               "first-impression",
		Base:             "When you first hear about {conceptName} from {brand}, what is your honest first impression?",
		FollowUpPositive: "What specifically caught your attention in a good way?",
		FollowUpNegative: "What put you off right away?",
	},
	{
		ID:               "own-words",
		Base:             "How would you describe {conceptName} to a friend, in your own words?",
		FollowUpPositive: "Who is the first person you would tell about it?",
		FollowUpNegative: "What part of it would be hardest to explain or justify?",
	},
	{
		ID:               "benefits",
		Base:             "{brand} says {conceptName} offers {benefits}. Which of these matters most to you, and why?",
		FollowUpPositive: "How would that benefit change a normal week for you?",
		FollowUpNegative: "Which of these claims do you find hard to believe?",
	},
	{
		ID:               "sensory",
		Base:             "Imagine using {conceptName} for the first time. What do you expect it to look, feel, smell or taste like?",
		FollowUpPositive: "What detail would make that first experience memorable?",
		FollowUpNegative: "What would disappoint you in that first experience?",
	},
	{
		ID:               "routine",
		Base:             "Where would {conceptName} fit into your daily routine, if at all?",
		FollowUpPositive: "What would it replace or improve in that routine?",
		FollowUpNegative: "What about your routine makes it a poor fit?",
	},
	{
		ID:               "traditions",
		Base:             "How does a {category} product like this sit with the traditions, habits or values in your family and community?",
		FollowUpPositive: "Is there an occasion where it would feel especially right?",
		FollowUpNegative: "Who around you would object to it, and what would they say?",
	},
	{
		ID:               "alternatives",
		Base:             "What do you use today instead of {conceptName}, and how does this compare?",
		FollowUpPositive: "What would make you switch for good?",
		FollowUpNegative: "Why would you stay with what you already use?",
	},
	{
		ID:               "concerns",
		Base:             "What concerns or doubts do you have about {conceptName}?",
		FollowUpPositive: "What could {brand} say or show you to put those doubts to rest?",
		FollowUpNegative: "Is any of these doubts a deal breaker?",
	},
	{
		ID:               "inclusion",
		Base:             "{brand} is aiming {conceptName} at {targetAudience}. Do you feel included in that, and who else should it be for?",
		FollowUpPositive: "Who would you share it with, and how?",
		FollowUpNegative: "Who does it leave out?",
	},
	{
		ID:               "price",
		Base:             "What would you expect to pay for {conceptName}, and where would you expect to buy it?",
		FollowUpPositive: "At what price would it feel like a bargain?",
		FollowUpNegative: "At what price would you walk away?",
	},
	{
		ID:               "purchase-intent",
		Base:             "Honestly, how likely are you to buy {conceptName} in the next few months, and what would change your mind?",
		FollowUpPositive: "What would make you buy it again after the first time?",
		FollowUpNegative: "What is the one thing {brand} would have to change for you to try it?",
	},
}

// DefaultScript returns a copy of the built-in 11-question library.
func DefaultScript() []Question {
	out := make([]Question, len(defaultScript))
	copy(out, defaultScript)
	return out
}

// Substitute returns questions with every placeholder replaced from c.
func Substitute(questions []Question, c model.Concept) []Question {
	r := replacerFor(c)
	out := make([]Question, len(questions))
	for i, q := range questions {
		out[i] = Question{
			ID:               q.ID,
			Base:             r.Replace(q.Base),
			FollowUpPositive: r.Replace(q.FollowUpPositive),
			FollowUpNegative: r.Replace(q.FollowUpNegative),
		}
	}
	return out
}

func replacerFor(c model.Concept) *strings.Replacer {
	benefits := "its benefits"
	if len(c.Benefits) > 0 {
		benefits = joinList(c.Benefits)
	}
	audience := c.TargetAudience
	if audience == "" {
		audience = "people like you"
	}
	brand := c.Brand
	if brand == "" {
		brand = "the brand"
	}
	category := c.Category
	if category == "" {
		category = "new"
	}
	return strings.NewReplacer(
		PlaceholderConceptName, c.Name,
		PlaceholderBrand, brand,
		PlaceholderCategory, category,
		PlaceholderBenefits, benefits,
		PlaceholderTargetAudience, audience,
	)
}

var placeholderRe = regexp.MustCompile(`\{[A-Za-z]+\}`)

// unresolved reports whether text still carries a {placeholder}.
func unresolved(text string) bool {
	return placeholderRe.MatchString(text)
}

// joinList renders items as "a, b and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

// SaveScript writes questions as indented JSON.
func SaveScript(questions []Question, path string) error {
	data, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal script: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write script to %s: %w", path, err)
	}
	return nil
}

// LoadScript reads a custom question library from a JSON or YAML file.
func LoadScript(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script from %s: %w", path, err)
	}
	var questions []Question
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(data, &questions)
	} else {
		err = json.Unmarshal(data, &questions)
	}
	if err != nil {
		return nil, fmt.Errorf("parse script from %s: %w", path, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("script %s has no questions", path)
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Base) == "" {
			return nil, fmt.Errorf("question %d in %s has empty base text", i, path)
		}
		if q.ID == "" {
			questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
	return questions, nil
}
