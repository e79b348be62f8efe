package postgres

import (
	"context"

	"gorm.io/gorm"

	"tern/internal/models"
)

func (s *Store) CreateCredential(ctx context.Context, cred *models.RelayCredential) error {
	return s.db.WithContext(ctx).Create(cred).Error
}

func (s *Store) GetCredential(ctx context.Context, id string) (*models.RelayCredential, error) {
	var cred models.RelayCredential
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&cred).Error; err != nil {
		return nil, translate(err)
	}
	return &cred, nil
}

func (s *Store) VerifiedCredentials(ctx context.Context, teamID string) ([]models.RelayCredential, error) {
	var creds []models.RelayCredential
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND verified = ?", teamID, true).
		Order("usage_count ASC, added_at ASC").
		Find(&creds).Error
	return creds, err
}

func (s *Store) IncrementCredentialUsage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.RelayCredential{}).
		Where("id = ?", id).
		Update("usage_count", gorm.Expr("usage_count + 1")).Error
}
