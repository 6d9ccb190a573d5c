package domain

import (
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/tolerantjson"
)

// Definition 一个阶段的配置记录
type Definition struct {
	Stage Stage
	// RequiresRouting 该阶段需要全科医生给出的专科类型
	RequiresRouting bool
	// UsesReport 该阶段读取患者上传的报告
	UsesReport bool
	Schema     Schema
	// Markdown 模型只返回 Markdown 时合成对象所用的字段
	Markdown tolerantjson.MarkdownFields
}

func (d Definition) Key() string  { return d.Stage.Key() }
func (d Definition) Name() string { return d.Stage.String() }

func markdown(title, findings, bullets, concerns string) tolerantjson.MarkdownFields {
	return tolerantjson.MarkdownFields{
		Title:    title,
		Findings: findings,
		Bullets:  bullets,
		Concerns: concerns,
		Digest:   FieldDigest,
	}
}

var definitions = [StageCount]Definition{
	{
		Stage:      StageAnalyst,
		UsesReport: true,
		Schema: newSchema(
			str("report_type", "Unknown report type"),
			str("detailed_findings", "No detailed findings available."),
			list("key_findings"),
			list("abnormalities"),
			list("normal_findings"),
		),
		Markdown: markdown("report_type", "detailed_findings", "key_findings", "abnormalities"),
	},
	{
		Stage: StagePhysician,
		Schema: newSchema(
			str("preliminary_assessment", "No assessment available."),
			list("possible_conditions"),
			list("recommended_tests"),
			list("red_flags"),
			routing(FieldRouting),
			str("specialist_referral_reason", "Not specified."),
		),
		Markdown: markdown("", "preliminary_assessment", "possible_conditions", "red_flags"),
	},
	{
		Stage:           StageSpecialist,
		RequiresRouting: true,
		Schema: newSchema(
			str("specialty", "Specialist"),
			str("specialist_assessment", "No specialist assessment available."),
			list("differential_diagnosis"),
			list("treatment_recommendations"),
			list("concerns"),
		),
		Markdown: markdown("specialty", "specialist_assessment", "differential_diagnosis", "concerns"),
	},
	{
		Stage: StagePathologist,
		Schema: newSchema(
			str("lab_interpretation", "No laboratory interpretation available."),
			list("suggested_tests"),
			list("abnormal_values"),
		),
		Markdown: markdown("", "lab_interpretation", "suggested_tests", "abnormal_values"),
	},
	{
		Stage: StageNutritionist,
		Schema: newSchema(
			str("dietary_assessment", "No dietary assessment available."),
			list("recommended_foods"),
			list("foods_to_avoid"),
			list("meal_suggestions"),
			list("supplements"),
		),
		Markdown: markdown("", "dietary_assessment", "recommended_foods", "foods_to_avoid"),
	},
	{
		Stage: StagePharmacist,
		Schema: newSchema(
			str("medication_review", "No medication review available."),
			list("recommended_medications"),
			list("drug_interactions"),
			list("side_effects_to_watch"),
			list("precautions"),
		),
		Markdown: markdown("", "medication_review", "recommended_medications", "precautions"),
	},
	{
		Stage: StageFollowUp,
		Schema: newSchema(
			str("monitoring_plan", "No monitoring plan available."),
			list("follow_up_schedule"),
			list("warning_signs"),
			list("lifestyle_recommendations"),
		),
		Markdown: markdown("", "monitoring_plan", "follow_up_schedule", "warning_signs"),
	},
	{
		Stage: StageSummarizer,
		Schema: newSchema(
			str("summary", "No summary available."),
			str("diagnosis_overview", "Not available."),
			str("urgency_level", "unknown"),
			list("key_points"),
			list("action_items"),
		),
		Markdown: markdown("diagnosis_overview", "summary", "key_points", "action_items"),
	},
}

// DefinitionOf 返回阶段的配置记录
func DefinitionOf(s Stage) (Definition, bool) {
	if !s.Valid() {
		return Definition{}, false
	}
	return definitions[s], true
}

// Definitions 按执行顺序返回全部阶段配置
func Definitions() []Definition {
	out := make([]Definition, StageCount)
	copy(out, definitions[:])
	return out
}
