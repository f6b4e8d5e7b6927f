// Package insight turns a finished interview transcript into thematic
// insights and an executive summary.
package insight

import "strings"

// Topic is one analytical lens applied to the transcript.
type Topic struct {
	Title             string   `json:"title"`
	Focus             string   `json:"focus"`
	KeyQuestions      []string `json:"keyQuestions"`
	CategoryRelevance string   `json:"categoryRelevance"`
}

// TopicMode selects how the five topics are chosen.
type TopicMode string

const (
	TopicsFixed   TopicMode = "fixed"
	TopicsDynamic TopicMode = "dynamic"
)

// TopicCount is the number of insights every synthesis yields.
const TopicCount = 5

var fixedTopics = []Topic{
	{
		Title:        "Concept Perception",
		Focus:        "How the respondent understands the concept, its promise and its credibility",
		KeyQuestions: []string{"What do they think the concept is for?", "Which parts feel believable or exaggerated?"},
	},
	{
		Title:        "Sensory and Benefit Expectations",
		Focus:        "What the respondent expects to see, feel, taste or gain from using the product",
		KeyQuestions: []string{"Which benefits matter most?", "What sensory experience do they anticipate?"},
	},
	{
		Title:        "Fit with Habits and Traditions",
		Focus:        "Where the concept fits or clashes with routines, family habits and cultural traditions",
		KeyQuestions: []string{"What would it replace?", "Which traditions support or resist it?"},
	},
	{
		Title:        "Inclusion and Adoption Context",
		Focus:        "Who the respondent sees the concept serving, who it excludes, and how it would spread",
		KeyQuestions: []string{"Do they feel the concept is for them?", "Who would they share it with?"},
	},
	{
		Title:        "Purchase Decision Factors",
		Focus:        "Price expectations, channels, triggers and barriers that decide a first and repeat purchase",
		KeyQuestions: []string{"What price feels right?", "What would stop or prompt a purchase?"},
	},
}

var foodTopics = []Topic{
	{Title: "Taste and Sensory Appeal", Focus: "Expected flavour, texture, aroma and appearance", KeyQuestions: []string{"What taste do they expect?", "Which sensory cue would disappoint?"}, CategoryRelevance: "Taste drives trial and repeat in food and beverage"},
	{Title: "Health and Nutrition Perception", Focus: "How ingredients and nutrition claims are read and trusted", KeyQuestions: []string{"Do the health claims convince?", "Which ingredients worry them?"}, CategoryRelevance: "Nutrition claims are a primary choice driver"},
	{Title: "Consumption Occasions and Rituals", Focus: "When, where and with whom it would be eaten or drunk", KeyQuestions: []string{"Which moment of the day fits?", "Is it a treat or a staple?"}, CategoryRelevance: "Occasions define the size of the opportunity"},
	{Title: "Cultural and Family Fit", Focus: "Fit with family meals, traditions and local food culture", KeyQuestions: []string{"Would the family accept it?", "Does it clash with food traditions?"}, CategoryRelevance: "Food choices are shared and culturally anchored"},
	{Title: "Price, Value and Purchase", Focus: "Price expectations, pack size, channel and switching triggers", KeyQuestions: []string{"What would they pay?", "Where would they buy it?"}, CategoryRelevance: "Frequent purchases make value central"},
}

var personalCareTopics = []Topic{
	{Title: "Efficacy and Expected Results", Focus: "What results the respondent expects and how fast", KeyQuestions: []string{"What result would prove it works?", "How long would they wait?"}, CategoryRelevance: "Efficacy is the core promise in personal care"},
	{Title: "Sensory Experience", Focus: "Texture, scent, feel on skin or hair and application ritual", KeyQuestions: []string{"What texture and scent do they expect?", "What would feel unpleasant?"}, CategoryRelevance: "Sensory experience decides repeat use"},
	{Title: "Ingredient Trust and Safety", Focus: "Trust in ingredients, sensitivities and safety concerns", KeyQuestions: []string{"Which ingredients reassure or worry?", "Do they fear reactions?"}, CategoryRelevance: "Ingredient scrutiny is rising in the category"},
	{Title: "Self-Image and Routine", Focus: "How the product fits routines, identity and self-presentation", KeyQuestions: []string{"Where in the routine does it go?", "What does using it say about them?"}, CategoryRelevance: "Personal care is tied to identity"},
	{Title: "Price and Purchase Behaviour", Focus: "Price expectations, channels, samples and switching from current brands", KeyQuestions: []string{"What would they pay?", "Would they switch from their current brand?"}, CategoryRelevance: "Brand loyalty and price tiers shape switching"},
}

var genericTopics = []Topic{
	{Title: "Concept Clarity", Focus: "How clearly the respondent understands what the concept is and does", KeyQuestions: []string{"Can they explain it?", "What confuses them?"}, CategoryRelevance: "Clarity gates every other reaction"},
	{Title: "Perceived Benefits", Focus: "Which benefits resonate and which are dismissed", KeyQuestions: []string{"Which benefit matters most?", "Which claims are doubted?"}, CategoryRelevance: "Benefits justify the purchase"},
	{Title: "Fit with Current Behaviour", Focus: "How the concept fits existing routines and alternatives", KeyQuestions: []string{"What would it replace?", "What would need to change?"}, CategoryRelevance: "Behaviour change is the main adoption cost"},
	{Title: "Barriers and Trust", Focus: "Doubts, risks and trust in the brand", KeyQuestions: []string{"What holds them back?", "What would reassure them?"}, CategoryRelevance: "Barriers predict drop-off between interest and purchase"},
	{Title: "Purchase Drivers", Focus: "Price, channel and triggers for a first purchase", KeyQuestions: []string{"What price is acceptable?", "What would make them buy now?"}, CategoryRelevance: "Drivers translate interest into sales"},
}

var categoryTables = []struct {
	keywords []string
	topics   []Topic
}{
	{[]string{"food", "beverage", "drink", "snack", "dairy", "milk", "yogurt", "yoghurt", "cheese", "lácteo", "alimento", "bebida", "juice", "cereal", "confection"}, foodTopics},
	{[]string{"personal care", "beauty", "cosmetic", "skin", "hair", "hygiene"}, personalCareTopics},
}

// FixedTopics returns the five category-independent lenses.
func FixedTopics() []Topic {
	return cloneTopics(fixedTopics)
}

// StaticTopicsFor picks the static topic table for a category by
// case-insensitive substring match, falling back to the generic table.
func StaticTopicsFor(category string) []Topic {
	lower := strings.ToLower(category)
	for _, table := range categoryTables {
		for _, kw := range table.keywords {
			if strings.Contains(lower, kw) {
				return cloneTopics(table.topics)
			}
		}
	}
	return cloneTopics(genericTopics)
}

// ValidTopics reports whether ts is exactly TopicCount well-formed topics.
func ValidTopics(ts []Topic) bool {
	if len(ts) != TopicCount {
		return false
	}
	for _, t := range ts {
		if strings.TrimSpace(t.Title) == "" || strings.TrimSpace(t.Focus) == "" {
			return false
		}
		if len(t.KeyQuestions) == 0 {
			return false
		}
	}
	return true
}

func cloneTopics(ts []Topic) []Topic {
	out := make([]Topic, len(ts))
	for i, t := range ts {
		out[i] = t
		out[i].KeyQuestions = append([]string(nil), t.KeyQuestions...)
	}
	return out
}
