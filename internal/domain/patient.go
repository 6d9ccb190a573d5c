package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidInput = errors.New("invalid patient input")

// UserInput 患者在创建会话时提交的信息，创建后不再修改
type UserInput struct {
	Age                int      `json:"age,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	HeightCm           float64  `json:"height_cm,omitempty"`
	WeightKg           float64  `json:"weight_kg,omitempty"`
	Symptoms           []string `json:"symptoms"`
	Duration           string   `json:"duration,omitempty"`
	MedicalHistory     string   `json:"medical_history,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	ReportText         string   `json:"report_text,omitempty"`
	ReportImageURL     string   `json:"report_image_url,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

// HasReport 是否提供了报告文本或报告图片
func (u UserInput) HasReport() bool {
	return strings.TrimSpace(u.ReportText) != "" || strings.TrimSpace(u.ReportImageURL) != ""
}

// Validate 校验患者信息
func (u UserInput) Validate() error {
	if u.Age < 0 || u.Age > 150 {
		return fmt.Errorf("%w: age out of range: %d", ErrInvalidInput, u.Age)
	}
	if u.HeightCm < 0 || u.WeightKg < 0 {
		return fmt.Errorf("%w: height and weight must not be negative", ErrInvalidInput)
	}
	hasSymptom := false
	for _, s := range u.Symptoms {
		if strings.TrimSpace(s) != "" {
			hasSymptom = true
			break
		}
	}
	if !hasSymptom && !u.HasReport() {
		return fmt.Errorf("%w: symptoms or a report are required", ErrInvalidInput)
	}
	return nil
}

// Normalize 去掉首尾空白和空的症状项
func (u UserInput) Normalize() UserInput {
	u.Gender = strings.TrimSpace(u.Gender)
	u.ReportText = strings.TrimSpace(u.ReportText)
	u.ReportImageURL = strings.TrimSpace(u.ReportImageURL)
	u.Symptoms = compact(u.Symptoms)
	u.CurrentMedications = compact(u.CurrentMedications)
	u.Allergies = compact(u.Allergies)
	if u.Symptoms == nil {
		u.Symptoms = []string{}
	}
	return u
}

func compact(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
