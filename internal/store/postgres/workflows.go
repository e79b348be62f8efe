package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tern/internal/models"
)

func (s *Store) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	return s.db.WithContext(ctx).Create(wf).Error
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&wf).Error; err != nil {
		return nil, translate(err)
	}
	return &wf, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	return s.db.WithContext(ctx).Save(wf).Error
}

func (s *Store) IncrementWorkflowEnrolled(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.Workflow{}).
		Where("id = ?", id).
		Update("stats_enrolled", gorm.Expr("stats_enrolled + 1")).Error
}

func (s *Store) IncrementWorkflowCompleted(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.Workflow{}).
		Where("id = ?", id).
		Update("stats_completed", gorm.Expr("stats_completed + 1")).Error
}

// --- enrollments ---

func (s *Store) CreateEnrollment(ctx context.Context, e *models.WorkflowEnrollment) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) HasActiveEnrollment(ctx context.Context, workflowID, contactID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.WorkflowEnrollment{}).
		Where("workflow_id = ? AND contact_id = ? AND status = ?",
			workflowID, contactID, models.EnrollmentStatusActive).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) DueEnrollments(ctx context.Context, limit int, now time.Time) ([]models.WorkflowEnrollment, error) {
	var due []models.WorkflowEnrollment
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_execution_at <= ?", models.EnrollmentStatusActive, now).
		Order("next_execution_at ASC").
		Limit(limit).
		Find(&due).Error
	return due, err
}

func (s *Store) ClaimEnrollment(ctx context.Context, id string, stepIndex int, from, to time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.WorkflowEnrollment{}).
		Where("id = ? AND current_step_index = ? AND next_execution_at = ?", id, stepIndex, from).
		Update("next_execution_at", to)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) UpdateEnrollment(ctx context.Context, e *models.WorkflowEnrollment) error {
	return s.db.WithContext(ctx).Save(e).Error
}

// --- contacts / templates ---

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Store) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *models.Template) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}
