package repository

import (
	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"gorm.io/gorm"
)

type stageRunRepository struct {
	db *gorm.DB
}

func NewStageRunRepository(db *gorm.DB) StageRunRepository {
	return &stageRunRepository{db: db}
}

func (r *stageRunRepository) Create(run *model.StageRun) error {
	return r.db.Create(run).Error
}

func (r *stageRunRepository) ListBySession(sessionID string) ([]model.StageRun, error) {
	var runs []model.StageRun
	err := r.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&runs).Error
	return runs, err
}

func (r *stageRunRepository) DeleteBySession(sessionID string) error {
	return r.db.Where("session_id = ?", sessionID).Delete(&model.StageRun{}).Error
}
