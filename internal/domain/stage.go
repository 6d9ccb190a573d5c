package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Stage 诊断链中的一个阶段，取值即该阶段在 current_step 中的序号
type Stage int

const (
	StageAnalyst      Stage = iota // 医学分析师（报告解读）
	StagePhysician                 // 全科医生
	StageSpecialist                // 专科医生
	StagePathologist               // 病理医生
	StageNutritionist              // 营养师
	StagePharmacist                // 药剂师
	StageFollowUp                  // 随访专员
	StageSummarizer                // 总结
)

// StageCount 阶段总数，current_step 等于该值表示全部完成
const StageCount = 8

var ErrUnknownStage = errors.New("unknown stage")

var stageKeys = [StageCount]string{
	"medical_analyst",
	"general_physician",
	"specialist_doctor",
	"pathologist",
	"nutritionist",
	"pharmacist",
	"follow_up_specialist",
	"summarizer",
}

var stageNames = [StageCount]string{
	"Medical Analyst",
	"General Physician",
	"Specialist Doctor",
	"Pathologist",
	"Nutritionist",
	"Pharmacist",
	"Follow-up Specialist",
	"Radiance Summarizer",
}

// Stages 按执行顺序返回全部阶段
func Stages() []Stage {
	out := make([]Stage, StageCount)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

func (s Stage) Valid() bool {
	return s >= 0 && s < StageCount
}

// Key 阶段的存储键，也是会话中响应槽位的键
func (s Stage) Key() string {
	if !s.Valid() {
		return ""
	}
	return stageKeys[s]
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Next 下一个阶段，最后一个阶段返回 false
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s+1 >= StageCount {
		return 0, false
	}
	return s + 1, true
}

// ParseStage 接受阶段序号（"2"）或阶段键（"specialist_doctor"）
func ParseStage(v string) (Stage, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if s := Stage(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrUnknownStage, v)
	}
	for i, key := range stageKeys {
		if strings.EqualFold(key, v) {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownStage, v)
}
