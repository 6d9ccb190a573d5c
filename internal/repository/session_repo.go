package repository

import (
	"errors"

	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session *model.DiagnosisSession) error {
	return r.db.Create(session).Error
}

func (r *sessionRepository) Get(id string) (*model.DiagnosisSession, error) {
	var session model.DiagnosisSession
	err := r.db.Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) ListByUser(userID string, limit int) ([]model.DiagnosisSession, error) {
	var sessions []model.DiagnosisSession
	q := r.db.Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepository) CompleteStage(id string, step int, responses model.Responses, status string) error {
	result := r.db.Model(&model.DiagnosisSession{}).
		Where("id = ? AND current_step = ?", id, step).
		Updates(map[string]interface{}{
			"responses":     datatypes.NewJSONType(responses),
			"current_step":  step + 1,
			"status":        status,
			"error_message": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleStep
	}
	return nil
}

func (r *sessionRepository) MarkError(id string, step int, message string) error {
	result := r.db.Model(&model.DiagnosisSession{}).
		Where("id = ? AND current_step = ? AND status <> ?", id, step, model.SessionStatusCompleted).
		Updates(map[string]interface{}{
			"status":        model.SessionStatusError,
			"error_message": message,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleStep
	}
	return nil
}

func (r *sessionRepository) TransitionStatus(id string, from, to string) error {
	updates := map[string]interface{}{"status": to}
	if to != model.SessionStatusError {
		updates["error_message"] = ""
	}
	result := r.db.Model(&model.DiagnosisSession{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleStep
	}
	return nil
}

func (r *sessionRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&model.DiagnosisSession{}).Error
}
