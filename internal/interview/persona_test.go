package interview

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/apresai/conceptlab/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePersonaPrompt_EmptyVariablesUsesDefaults(t *testing.T) {
	prompt := CompilePersonaPrompt(model.Persona{ID: "p", Name: "Ana"})

	require.NotEmpty(t, prompt)
	for _, section := range []string{"WHO YOU ARE:", "YOUR ATTITUDES:", "YOUR BRAND RELATIONSHIPS:", "HOW YOU SPEAK:"} {
		assert.Contains(t, prompt, section)
	}
	for _, tr := range coreTraits {
		assert.Contains(t, prompt, tr.Label+": moderate (5/10), "+tr.Mid)
	}
	assert.Contains(t, prompt, "120 to 200 words")
	assert.Contains(t, prompt, "No strong attachments")
}

func TestCompilePersonaPrompt_BothVariableShapesMatch(t *testing.T) {
	base := `{"id":"p1","name":"Kenji","archetype":"health-focused parent","baseProfile":{"age":41,"location":"Osaka","occupation":"nurse","socioeconomicLevel":"middle"},"brandRelationships":{"Zeta":"buys weekly","Alpha":"distrusts"},`
	var fromObject, fromPairs model.Persona
	require.NoError(t, json.Unmarshal([]byte(base+`"variables":{"health_consciousness":9,"price_sensitivity":2,"diet":"pescatarian"}}`), &fromObject))
	require.NoError(t, json.Unmarshal([]byte(base+`"variables":[{"key":"health_consciousness","value":9},{"key":"price_sensitivity","value":2},{"key":"diet","value":"pescatarian"}]}`), &fromPairs))

	prompt := CompilePersonaPrompt(fromObject)
	assert.Equal(t, prompt, CompilePersonaPrompt(fromPairs))

	assert.Contains(t, prompt, "You are Kenji, health-focused parent.")
	assert.Contains(t, prompt, "Health consciousness: high (9/10)")
	assert.Contains(t, prompt, "Price sensitivity: low (2/10)")
	assert.Contains(t, prompt, "Brand loyalty: moderate (5/10)")
	assert.Contains(t, prompt, "Diet: pescatarian")
	assert.Less(t, strings.Index(prompt, "Alpha: distrusts"), strings.Index(prompt, "Zeta: buys weekly"))
}

func TestDescribeTrait(t *testing.T) {
	tr := coreTraits[0]
	assert.Equal(t, "moderate (5/10), "+tr.Mid, describeTrait(tr, "", false))
	assert.Equal(t, "high (8/10), "+tr.High, describeTrait(tr, "0.8", true))
	assert.Equal(t, "low (1/10), "+tr.Low, describeTrait(tr, "1", true))
	assert.Equal(t, "moderate (5/10), "+tr.Mid, describeTrait(tr, "5", true))
	assert.Equal(t, "very picky", describeTrait(tr, "very picky", true))
}
