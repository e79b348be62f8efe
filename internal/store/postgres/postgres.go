// Package postgres is the gorm-backed Store implementation. Claims are
// expressed as conditional UPDATEs filtered on the expected prior status;
// RowsAffected tells the caller whether it won the race.
package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/store"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// New wraps a connected gorm DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrNotFound
	}
	return err
}

// --- jobs ---

func (s *Store) CreateJob(ctx context.Context, job *models.EmailJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *Store) CreateJobs(ctx context.Context, jobs []*models.EmailJob) error {
	if len(jobs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(jobs, 200).Error
}

func (s *Store) DueJobs(ctx context.Context, limit int) ([]models.EmailJob, error) {
	var jobs []models.EmailJob
	err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry_count < ?)",
			models.JobStatusQueued, models.JobStatusFailed, models.MaxJobAttempts).
		Order("queued_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *Store) ClaimJob(ctx context.Context, id string, from, to models.JobStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.EmailJob{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

// UpdateJob writes only the delivery-outcome columns. campaign_id and
// workflow_id are nullable uuid columns; a full-row save would bind
// empty strings into them.
func (s *Store) UpdateJob(ctx context.Context, job *models.EmailJob) error {
	return s.db.WithContext(ctx).
		Model(&models.EmailJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":      job.Status,
			"retry_count": job.RetryCount,
			"last_error":  job.LastError,
			"sent_at":     job.SentAt,
			"failed_at":   job.FailedAt,
		}).Error
}

func (s *Store) OpenJobCount(ctx context.Context, campaignID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.EmailJob{}).
		Where("campaign_id = ?", campaignID).
		Where("status IN ? OR (status = ? AND retry_count < ?)",
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing},
			models.JobStatusFailed, models.MaxJobAttempts).
		Count(&n).Error
	return n, err
}

func (s *Store) JobsByCampaign(ctx context.Context, campaignID string) ([]models.EmailJob, error) {
	var jobs []models.EmailJob
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("queued_at ASC").
		Find(&jobs).Error
	return jobs, err
}
