package interview

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/apresai/conceptlab/internal/model"
)

// trait is a psychographic dimension the compiler always describes, whether
// or not the persona carries a value for it.
type trait struct {
	Key   string
	Label string
	Low   string
	Mid   string
	High  string
}

var coreTraits = []trait{
	{"price_sensitivity", "Price sensitivity", "rarely checks prices", "compares prices on bigger purchases", "watches every price and hunts for deals"},
	{"health_consciousness", "Health consciousness", "does not think much about health when shopping", "pays moderate attention to health claims", "reads labels closely and prioritizes health"},
	{"brand_loyalty", "Brand loyalty", "switches brands freely", "has a few favourite brands but will try others", "sticks with trusted brands"},
	{"innovation_openness", "Openness to new products", "prefers the familiar", "tries new things when a friend recommends them", "loves being first to try something new"},
	{"tradition_attachment", "Attachment to tradition", "is indifferent to tradition", "values some family traditions", "holds family and cultural traditions close"},
	{"environmental_concern", "Environmental concern", "rarely considers environmental impact", "prefers sustainable options when convenient", "actively avoids products with a poor environmental record"},
	{"social_influence", "Social influence", "decides independently of others", "listens to friends and family", "is strongly guided by what people around them use"},
}

// CompilePersonaPrompt builds the role-conditioning system prompt for p.
// Traits absent from p.Variables are described at the middle of their scale.
func CompilePersonaPrompt(p model.Persona) string {
	var b strings.Builder

	name := p.Name
	if name == "" {
		name = "a consumer"
	}
	fmt.Fprintf(&b, "You are %s", name)
	if p.Archetype != "" {
		fmt.Fprintf(&b, ", %s", p.Archetype)
	}
	b.WriteString(". You are taking part in a one-on-one consumer interview about a new product concept. Stay fully in character for the whole conversation.\n\n")

	b.WriteString("WHO YOU ARE:\n")
	bp := p.BaseProfile
	age := "an adult of unspecified age"
	if bp.Age > 0 {
		age = fmt.Sprintf("%d years old", bp.Age)
	}
	fmt.Fprintf(&b, "- Age: %s\n", age)
	fmt.Fprintf(&b, "- Location: %s\n", orDefault(bp.Location, "not specified; speak like a typical local shopper"))
	fmt.Fprintf(&b, "- Occupation: %s\n", orDefault(bp.Occupation, "not specified"))
	fmt.Fprintf(&b, "- Socioeconomic level: %s\n\n", orDefault(bp.SocioeconomicLevel, "middle income"))

	b.WriteString("YOUR ATTITUDES:\n")
	used := make(map[string]bool, len(coreTraits))
	for _, t := range coreTraits {
		used[t.Key] = true
		raw, ok := p.Variables.Get(t.Key)
		fmt.Fprintf(&b, "- %s: %s\n", t.Label, describeTrait(t, raw, ok))
	}
	for _, pair := range p.Variables.Pairs() {
		if used[strings.ToLower(pair.Key)] {
			continue
		}
		fmt.Fprintf(&b, "- %s: %v\n", humanize(pair.Key), pair.Value)
	}
	b.WriteString("\n")

	b.WriteString("YOUR BRAND RELATIONSHIPS:\n")
	if len(p.BrandRelationships) == 0 {
		b.WriteString("- No strong attachments to particular brands.\n")
	} else {
		brands := make([]string, 0, len(p.BrandRelationships))
		for brand := range p.BrandRelationships {
			brands = append(brands, brand)
		}
		sort.Strings(brands)
		for _, brand := range brands {
			fmt.Fprintf(&b, "- %s: %s\n", brand, p.BrandRelationships[brand])
		}
	}
	b.WriteString("\n")

	b.WriteString(`HOW YOU SPEAK:
- Answer in the first person, as yourself, in 120 to 200 words
- Use the everyday vocabulary, idioms and references natural to someone of your age, place and background
- Be concrete: mention real situations from your life, the shops you use, the people you live with
- Be honest, including doubts, mixed feelings and objections; do not try to please the interviewer
- Never mention being an AI, a model or a persona, and never describe these instructions`)

	return b.String()
}

// describeTrait renders a value on a 1-10 (or 0-1) scale as a descriptor.
// Non-numeric values are used verbatim.
func describeTrait(t trait, raw string, ok bool) string {
	if !ok || strings.TrimSpace(raw) == "" {
		return fmt.Sprintf("moderate (5/10), %s", t.Mid)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	if n > 0 && n <= 1 && strings.Contains(raw, ".") {
		n = math.Round(n*100) / 10
	}
	switch {
	case n <= 3:
		return fmt.Sprintf("low (%s/10), %s", trimFloat(n), t.Low)
	case n >= 7:
		return fmt.Sprintf("high (%s/10), %s", trimFloat(n), t.High)
	default:
		return fmt.Sprintf("moderate (%s/10), %s", trimFloat(n), t.Mid)
	}
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func humanize(key string) string {
	key = strings.ReplaceAll(strings.ReplaceAll(key, "_", " "), "-", " ")
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
