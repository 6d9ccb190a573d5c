package domain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	s, err := ParseStage("2")
	require.NoError(t, err)
	assert.Equal(t, StageSpecialist, s)

	s, err = ParseStage("Follow_Up_Specialist")
	require.NoError(t, err)
	assert.Equal(t, StageFollowUp, s)

	_, err = ParseStage("8")
	assert.ErrorIs(t, err, ErrUnknownStage)
	_, err = ParseStage("surgeon")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestStageNext(t *testing.T) {
	next, ok := StageAnalyst.Next()
	assert.True(t, ok)
	assert.Equal(t, StagePhysician, next)

	_, ok = StageSummarizer.Next()
	assert.False(t, ok)
	assert.Len(t, Stages(), StageCount)
}

func TestDefinitionsCoverEveryStage(t *testing.T) {
	prompts := DefaultPrompts()
	for i, def := range Definitions() {
		assert.Equal(t, Stage(i), def.Stage)
		assert.NotEmpty(t, def.Key())
		assert.Contains(t, prompts.Stages, def.Key(), "stage %s has no prompt", def.Key())

		_, ok := def.Schema.Field(FieldDigest)
		assert.True(t, ok)
		_, ok = def.Schema.Field(FieldDisclaimer)
		assert.True(t, ok)
	}

	physician, _ := DefinitionOf(StagePhysician)
	f, ok := physician.Schema.Field(FieldRouting)
	require.True(t, ok)
	assert.True(t, f.Routing)
	assert.Nil(t, f.Default)

	specialist, _ := DefinitionOf(StageSpecialist)
	assert.True(t, specialist.RequiresRouting)
}

func TestFillDefaults(t *testing.T) {
	def, _ := DefinitionOf(StagePhysician)
	in := map[string]any{
		"preliminary_assessment": "Likely viral infection",
		"possible_conditions":    "Influenza",
		"recommended_tests":      nil,
		"red_flags":              42.0,
		"extra":                  "kept",
	}

	out := def.Schema.FillDefaults(in)

	assert.Equal(t, "Likely viral infection", out["preliminary_assessment"])
	assert.Equal(t, []any{"Influenza"}, out["possible_conditions"])
	assert.Equal(t, []any{}, out["recommended_tests"])
	assert.Equal(t, []any{}, out["red_flags"])
	assert.Equal(t, "kept", out["extra"])
	assert.Equal(t, DefaultDisclaimer, out[FieldDisclaimer])
	assert.Equal(t, map[string]any{}, out[FieldDigest])
	assert.Equal(t, CurrentSchemaVersion, out[FieldSchemaVersion])

	_, present := out[FieldRouting]
	assert.False(t, present, "routing field must not be defaulted")

	// 入参不被修改
	assert.Equal(t, "Influenza", in["possible_conditions"])
	_, present = in[FieldDisclaimer]
	assert.False(t, present)
}

func TestFillDefaultsDoesNotShareDefaults(t *testing.T) {
	def, _ := DefinitionOf(StagePathologist)
	a := def.Schema.FillDefaults(nil)
	b := def.Schema.FillDefaults(nil)

	a[FieldDigest].(map[string]any)["x"] = 1
	assert.Empty(t, b[FieldDigest])
}

func TestPlaceholder(t *testing.T) {
	def, _ := DefinitionOf(StageNutritionist)
	p := def.Schema.Placeholder("raw model output")

	assert.Equal(t, []any{CouldNotParse}, p["recommended_foods"])
	assert.Equal(t, DefaultDisclaimer, p[FieldDisclaimer])
	digest := p[FieldDigest].(map[string]any)
	assert.Equal(t, "raw model output", digest["raw_text"])

	filled := def.Schema.FillDefaults(p)
	assert.Equal(t, p["recommended_foods"], filled["recommended_foods"])
}

func TestRoutingValue(t *testing.T) {
	r := RoleResponse{FieldRouting: "  Cardiologist "}
	v, ok := r.RoutingValue()
	assert.True(t, ok)
	assert.Equal(t, "Cardiologist", v)

	r = RoleResponse{FieldDigest: map[string]any{FieldRouting: "Neurologist"}}
	v, ok = r.RoutingValue()
	assert.True(t, ok)
	assert.Equal(t, "Neurologist", v)

	_, ok = RoleResponse{FieldRouting: ""}.RoutingValue()
	assert.False(t, ok)
}

func TestMigrateV1(t *testing.T) {
	legacy := map[string]any{
		"preliminary_assessment": "ok",
		"specialist_type":        "Pulmonologist",
		"red_flags":              "- chest pain\n- shortness of breath\n",
		"next_role_data": map[string]any{
			"recommended_specialist": "Pulmonologist",
		},
	}

	out := Migrate(StagePhysician, legacy)

	assert.Equal(t, CurrentSchemaVersion, out[FieldSchemaVersion])
	assert.Equal(t, "Pulmonologist", out[FieldRouting])
	assert.NotContains(t, out, "specialist_type")
	assert.NotContains(t, out, "next_role_data")
	assert.Equal(t, []any{"chest pain", "shortness of breath"}, out["red_flags"])

	digest := out[FieldDigest].(map[string]any)
	assert.Equal(t, "Pulmonologist", digest[FieldRouting])
	assert.NotContains(t, digest, "recommended_specialist")

	// 纯函数：旧对象保持不变
	assert.Contains(t, legacy, "specialist_type")
	assert.Contains(t, legacy["next_role_data"], "recommended_specialist")
}

func TestMigrateCurrentIsNoop(t *testing.T) {
	in := map[string]any{
		FieldSchemaVersion: float64(2),
		"specialist_type":  "kept on v2",
	}
	out := Migrate(StagePhysician, in)
	assert.Equal(t, "kept on v2", out["specialist_type"])
	assert.Equal(t, 2, SchemaVersion(out))
}

func TestUserInputValidate(t *testing.T) {
	assert.NoError(t, UserInput{Age: 30, Symptoms: []string{"cough"}}.Validate())
	assert.NoError(t, UserInput{ReportText: "Hb 9.5"}.Validate())
	assert.ErrorIs(t, UserInput{Age: 30}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, UserInput{Age: -1, Symptoms: []string{"x"}}.Validate(), ErrInvalidInput)

	n := UserInput{Symptoms: []string{" cough ", "", "fever"}}.Normalize()
	assert.Equal(t, []string{"cough", "fever"}, n.Symptoms)
	assert.False(t, n.HasReport())
}

func TestStageSystemPrompt(t *testing.T) {
	prompts := DefaultPrompts()
	msg, err := prompts.StageSystem(context.Background(), StageSpecialist, map[string]any{
		"specialist_type": "Cardiologist",
	})
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "You are a Cardiologist")
	assert.Contains(t, msg.Content, `"differential_diagnosis": array of strings`)

	chat, err := prompts.ChatSystem(context.Background(), "age: 30")
	require.NoError(t, err)
	assert.Contains(t, chat.Content, "age: 30")
}

func TestLoadPromptsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := "stages:\n  pathologist: \"custom {{.output_fields}}\"\n  unknown_role: \"ignored\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	prompts, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "custom {{.output_fields}}", prompts.Stages["pathologist"])
	assert.NotContains(t, prompts.Stages, "unknown_role")
	assert.NotEmpty(t, prompts.Stages["summarizer"])
	assert.NotEmpty(t, prompts.Chat)
}
