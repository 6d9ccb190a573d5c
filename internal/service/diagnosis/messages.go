package diagnosis

import (
	"context"

	"github.com/cloudwego/eino/schema"
	"github.com/dgeneration/radiance-ai/backend/internal/domain"
	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"github.com/dgeneration/radiance-ai/backend/internal/utils"
)

// stageInput 发给模型的用户内容：患者信息加上此前每个阶段的摘要
type stageInput struct {
	Patient          patientFacts              `json:"patient"`
	Report           string                    `json:"report_text,omitempty"`
	SpecialistType   string                    `json:"specialist_type,omitempty"`
	PreviousAnalyses map[string]map[string]any `json:"previous_analyses"`
}

type patientFacts struct {
	Age                int      `json:"age,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	HeightCm           float64  `json:"height_cm,omitempty"`
	WeightKg           float64  `json:"weight_kg,omitempty"`
	Symptoms           []string `json:"symptoms"`
	Duration           string   `json:"duration,omitempty"`
	MedicalHistory     string   `json:"medical_history,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	HasReport          bool     `json:"has_report"`
}

func factsOf(in domain.UserInput) patientFacts {
	return patientFacts{
		Age:                in.Age,
		Gender:             in.Gender,
		HeightCm:           in.HeightCm,
		WeightKg:           in.WeightKg,
		Symptoms:           in.Symptoms,
		Duration:           in.Duration,
		MedicalHistory:     in.MedicalHistory,
		CurrentMedications: in.CurrentMedications,
		Allergies:          in.Allergies,
		Notes:              in.Notes,
		HasReport:          in.HasReport(),
	}
}

// digestsBefore 收集 stage 之前所有已完成阶段的摘要
func digestsBefore(session *model.DiagnosisSession, stage domain.Stage) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, s := range domain.Stages() {
		if s >= stage {
			break
		}
		if resp, ok := session.Response(s); ok {
			out[s.Key()] = resp.Digest()
		}
	}
	return out
}

// buildMessages 构造阶段的系统消息与用户消息；报告阶段附带图片时使用多段内容
func (r *Runner) buildMessages(ctx context.Context, session *model.DiagnosisSession, def domain.Definition, specialist string) ([]*schema.Message, error) {
	system, err := r.prompts.StageSystem(ctx, def.Stage, map[string]any{
		"specialist_type": specialist,
	})
	if err != nil {
		return nil, err
	}

	in := session.Input()
	payload := stageInput{
		Patient:          factsOf(in),
		SpecialistType:   specialist,
		PreviousAnalyses: digestsBefore(session, def.Stage),
	}
	if def.UsesReport {
		payload.Report = in.ReportText
	}
	content := utils.ToPrettyJSON(payload)

	user := schema.UserMessage(content)
	if def.UsesReport && in.ReportImageURL != "" {
		user = &schema.Message{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: content},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: in.ReportImageURL}},
			},
		}
	}
	return []*schema.Message{system, user}, nil
}
