package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/apresai/conceptlab/internal/config"
	"github.com/apresai/conceptlab/internal/interview"
	"github.com/apresai/conceptlab/internal/llm/llmtest"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/pipeline"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags(t *testing.T) {
	t.Helper()
	reset := func() {
		flagConcept, flagPersonas, flagContext, flagOutput, flagScript, flagConfig = "", "", "", "", "", ""
		flagModel, flagAdaptiveMode, flagTopicMode = "", "", ""
		flagAnthropicAPIKey, flagGeminiAPIKey = "", ""
		flagConcurrency = 0
		flagRetrieve, flagNoCritic, flagVerbose, flagTUI, flagReview = false, false, false, false, false
	}
	reset()
	t.Cleanup(reset)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConcept(t *testing.T) {
	dir := t.TempDir()

	c, err := LoadConcept(writeFile(t, dir, "c.yaml", `
name: Oat Crunch
brand: Morning Co
category: Snack foods
benefits: [high fibre, low sugar]
`))
	require.NoError(t, err)
	assert.Equal(t, "oat-crunch", c.ID, "id derived from name")
	assert.Equal(t, []string{"high fibre", "low sugar"}, c.Benefits)

	c, err = LoadConcept(writeFile(t, dir, "c.json", `{"id":"c-9","name":"Glow Serum","targetAudience":"adults 25-40"}`))
	require.NoError(t, err)
	assert.Equal(t, "c-9", c.ID)
	assert.Equal(t, "adults 25-40", c.TargetAudience)

	_, err = LoadConcept(writeFile(t, dir, "bad.json", `{"brand":"x"}`))
	assert.ErrorContains(t, err, "name is required")

	_, err = LoadConcept(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadPersonas(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		ids     []string
	}{
		{"json list", "p.json", `[{"id":"a","name":"Ana"},{"name":"Ben"}]`, []string{"a", "persona-2"}},
		{"json single", "p.json", ` {"id":"solo","variables":{"diet":"vegan"}}`, []string{"solo"}},
		{"yaml list", "p.yaml", "- id: a\n  name: Ana\n- id: b\n", []string{"a", "b"}},
		{"yaml single", "p.yml", "id: one\nbaseProfile:\n  age: 34\n", []string{"one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := LoadPersonas(writeFile(t, dir, tt.file, tt.content))
			require.NoError(t, err)
			ids := make([]string, len(ps))
			for i, p := range ps {
				ids[i] = p.ID
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	_, err := LoadPersonas(writeFile(t, dir, "dup.json", `[{"id":"a"},{"id":"a"}]`))
	assert.ErrorContains(t, err, `duplicate persona id "a"`)

	_, err = LoadPersonas(writeFile(t, dir, "empty.json", `[]`))
	assert.ErrorContains(t, err, "holds no personas")
}

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	res := &pipeline.BatchResult{
		Evaluations: []*model.ConversationalEvaluation{{ID: "ev-1", PersonaID: "a"}},
		Failures:    []*pipeline.PersonaError{{PersonaID: "b", Err: errors.New("interview aborted")}},
	}
	require.NoError(t, WriteResults(path, model.Concept{ID: "c-1", Name: "Oat Crunch"}, res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc Results
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "c-1", doc.Concept.ID)
	require.Len(t, doc.Evaluations, 1)
	assert.Equal(t, []FailedPersona{{PersonaID: "b", Error: "interview aborted"}}, doc.Failures)
}

func TestRenderReport(t *testing.T) {
	res := &pipeline.BatchResult{
		Evaluations: []*model.ConversationalEvaluation{{
			UserInformation: model.UserInformation{Name: "Ana", Archetype: "Busy parent", Age: 38},
			ExecutiveSummary: model.ExecutiveSummary{
				Narrative: "Ana liked the crunch.",
				Insights: []model.TopicInsight{
					{Title: "Price perception", Impact: "high"},
					{Title: "Packaging", Impact: "low", Placeholder: true},
				},
				IntentBreakdown:   model.IntentBreakdown{High: 0.5, Low: 0.5, Signals: 2},
				SuggestedFollowUp: model.FollowUpResearch{Question: "Would a smaller pack help?"},
			},
			Metadata: model.Metadata{Confidence: 0.9, QualityIssues: []string{"thin_vocabulary: 120 distinct words"}},
		}},
		Failures: []*pipeline.PersonaError{{PersonaID: "b", Err: errors.New("boom")}},
	}
	out := RenderReport(model.Concept{Name: "Oat Crunch", Brand: "Morning Co"}, res)

	for _, want := range []string{
		"Oat Crunch by Morning Co", "Ana", "Busy parent", "Price perception", "not available",
		"high 50%", "Would a smaller pack help?", "thin_vocabulary", "b: boom",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRenderScript(t *testing.T) {
	out := RenderScript([]interview.Question{{Base: "What do you think?", FollowUpPositive: "What do you like?"}})
	assert.Contains(t, out, " 1. What do you think?")
	assert.Contains(t, out, "+ What do you like?")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "oat-crunch-2-0", slug(model.Concept{Name: "Oat Crunch 2.0!"}))
	assert.Equal(t, "c-1", slug(model.Concept{ID: "C-1", Name: "ignored"}))
	assert.Equal(t, "concept", slug(model.Concept{Name: "???"}))
}

func TestCheckAPIKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Model = "sonnet"
	assert.ErrorContains(t, checkAPIKeys(cfg), "ANTHROPIC_API_KEY")
	cfg.AnthropicAPIKey = "k"
	assert.NoError(t, checkAPIKeys(cfg))

	cfg.Model = "gemini-pro"
	assert.ErrorContains(t, checkAPIKeys(cfg), "GEMINI_API_KEY")
	cfg.Model = "nova-lite"
	assert.NoError(t, checkAPIKeys(cfg), "bedrock uses ambient AWS credentials")
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	resetFlags(t)
	t.Chdir(t.TempDir())
	flagModel = "gemini-flash"
	flagAdaptiveMode = "Aggressive"
	flagConcurrency = 7
	flagNoCritic = true
	flagGeminiAPIKey = "g"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gemini-flash", cfg.Model)
	assert.Equal(t, model.AdaptiveAggressive, cfg.Adaptive.AdaptiveMode)
	assert.Equal(t, 7, cfg.Concurrency)
	assert.False(t, cfg.Critic.Enabled)
	assert.Equal(t, "g", cfg.GeminiAPIKey)

	flagTopicMode = "random"
	_, err = loadConfig()
	assert.ErrorContains(t, err, "topics.mode")
}

func TestVersionAndListModels(t *testing.T) {
	resetFlags(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "conceptlab dev\n", out.String())

	out.Reset()
	rootCmd.SetArgs([]string{"list-models"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "haiku")
	assert.Contains(t, out.String(), "ANTHROPIC_API_KEY")
	assert.Contains(t, out.String(), "nova-lite")
}

func TestScriptCommand(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	concept := writeFile(t, dir, "c.json", `{"id":"c-1","name":"Oat Crunch","brand":"Morning Co","category":"Snack foods"}`)
	saved := filepath.Join(dir, "script.json")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })
	rootCmd.SetArgs([]string{"script", "-c", concept, "-o", saved})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Script saved to")

	questions, err := interview.LoadScript(saved)
	require.NoError(t, err)
	assert.Len(t, questions, len(interview.DefaultScript()))
	assert.NotContains(t, questions[0].Base, "{conceptName}")
}

func TestEvaluateCommand_EndToEnd(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	t.Chdir(dir)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer gen-key", r.Header.Get("Authorization"))
		// Prose satisfies interview turns; every structured stage falls back.
		json.NewEncoder(w).Encode(map[string]string{"text": llmtest.Words(130)})
	}))
	defer srv.Close()

	t.Setenv("CONCEPTLAB_GENERATION_URL", srv.URL)
	t.Setenv("CONCEPTLAB_GENERATION_KEY", "gen-key")
	cfgPath := writeFile(t, dir, "conceptlab.yaml", "topics:\n  delay: 0s\nlog:\n  level: error\n")
	concept := writeFile(t, dir, "concept.json", `{"id":"c-1","name":"Oat Crunch","brand":"Morning Co","category":"Snack foods"}`)
	personas := writeFile(t, dir, "personas.yaml", "- id: a\n  name: Ana\n- id: b\n  name: Ben\n")
	outPath := filepath.Join(dir, "results.json")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })
	rootCmd.SetArgs([]string{"evaluate", "-c", concept, "-p", personas, "-m", "http",
		"--config", cfgPath, "-o", outPath, "-v", "-n", "2"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var doc Results
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Evaluations, 2)
	assert.Empty(t, doc.Failures)
	for i, ev := range doc.Evaluations {
		assert.Equal(t, []string{"a", "b"}[i], ev.PersonaID)
		assert.Len(t, ev.Conversation, len(interview.DefaultScript()))
		assert.True(t, ev.ExecutiveSummary.Fallback)
		assert.Equal(t, "http", ev.Metadata.Model)
	}
	assert.Positive(t, calls.Load())
	assert.Contains(t, out.String(), "Ana")
	assert.Contains(t, out.String(), "Ben")
}

func TestEvaluateCommand_RequiresInputs(t *testing.T) {
	resetFlags(t)
	rootCmd.SetArgs([]string{"evaluate"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "--concept (-c) and --personas (-p) are required")
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m tuiModel, keys ...string) tuiModel {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(tuiModel)
	}
	return m
}

func TestTUI_RequiresConceptAndPersonas(t *testing.T) {
	resetFlags(t)
	m := initialTUIModel()
	m.cursor = idxEvaluate
	m = press(m, "enter")
	require.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "Concept is required")
	assert.False(t, m.confirmed)
}

func TestTUI_EditAndApply(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	conceptPath := writeFile(t, dir, "c.json", `{"name":"Oat Crunch"}`)
	personasPath := writeFile(t, dir, "p.yaml", "- name: Ana\n- name: Ben\n")
	m := initialTUIModel()

	// Type the concept and persona paths; enter advances to the next field.
	m = press(m, "enter", conceptPath, "enter", "enter", personasPath, "enter")
	require.NoError(t, m.err)
	assert.Equal(t, conceptPath, m.items[idxConcept].value)
	assert.Equal(t, personasPath, m.items[idxPersonas].value)
	assert.Equal(t, "(2 personas)", m.items[idxPersonas].hint)
	assert.Equal(t, idxContext, m.cursor)

	// Pick "aggressive" adaptive mode.
	m.cursor = idxAdaptive
	m = press(m, "enter", "down", "down", "down", "enter")
	assert.Equal(t, "aggressive", m.items[idxAdaptive].value)

	// Turn the critic off.
	m.cursor = idxCritic
	m = press(m, "enter", "down", "enter")
	assert.Equal(t, "off", m.items[idxCritic].value)

	m.cursor = idxEvaluate
	m = press(m, "enter")
	require.True(t, m.confirmed)
	assert.Contains(t, m.View(), "Concept Lab")

	m.applySelections()
	assert.Equal(t, conceptPath, flagConcept)
	assert.Equal(t, personasPath, flagPersonas)
	assert.Equal(t, "aggressive", flagAdaptiveMode)
	assert.True(t, flagNoCritic)
	assert.Equal(t, 0, flagConcurrency)
}

func TestTUI_RejectsUnreadableInput(t *testing.T) {
	resetFlags(t)
	m := press(initialTUIModel(), "enter", filepath.Join(t.TempDir(), "missing.json"), "enter")
	require.Error(t, m.err)
	assert.ErrorIs(t, m.err, os.ErrNotExist)
	assert.Equal(t, idxConcept, m.cursor, "cursor stays on the bad field")
	assert.Contains(t, m.View(), "Error:")
}

func TestTUI_QuitCancels(t *testing.T) {
	resetFlags(t)
	m := press(initialTUIModel(), "q")
	assert.True(t, m.cancelled)
	assert.True(t, strings.Contains(m.View(), "Evaluate"))
}
