package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tern/internal/models"
)

func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Store) GetCampaign(ctx context.Context, teamID, id string) (*models.Campaign, error) {
	var c models.Campaign
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if teamID != "" {
		q = q.Where("team_id = ?", teamID)
	}
	if err := q.First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *Store) ClaimCampaign(ctx context.Context, id string, from, to models.CampaignStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ? AND paused = ? AND scheduled_at <= ?",
			models.CampaignStatusPending, false, now).
		Order("scheduled_at ASC").
		Find(&campaigns).Error
	return campaigns, err
}

func (s *Store) SendingCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ?", models.CampaignStatusSending).
		Find(&campaigns).Error
	return campaigns, err
}

func (s *Store) IncrementCampaignCounters(ctx context.Context, id string, success, failure int) error {
	updates := map[string]any{}
	if success != 0 {
		updates["success_count"] = gorm.Expr("success_count + ?", success)
	}
	if failure != 0 {
		updates["failure_count"] = gorm.Expr("failure_count + ?", failure)
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) IncrementEngagement(ctx context.Context, id string, opens, clicks int) error {
	updates := map[string]any{}
	if opens != 0 {
		updates["open_count"] = gorm.Expr("open_count + ?", opens)
		updates["last_opened_at"] = time.Now()
	}
	if clicks != 0 {
		updates["click_count"] = gorm.Expr("click_count + ?", clicks)
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// --- recipient ledger ---

func (s *Store) ReplaceRecipients(ctx context.Context, campaignID string, rows []*models.CampaignRecipient) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", campaignID).
			Delete(&models.CampaignRecipient{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
}

func (s *Store) RecipientsByStatus(ctx context.Context, campaignID string, status models.RecipientStatus) ([]models.CampaignRecipient, error) {
	var rows []models.CampaignRecipient
	q := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&rows).Error
	return rows, err
}

func (s *Store) CountRecipients(ctx context.Context, campaignID string, status models.RecipientStatus) (int64, error) {
	var n int64
	q := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("campaign_id = ?", campaignID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&n).Error
	return n, err
}

func (s *Store) MarkRecipient(ctx context.Context, campaignID, email string, status models.RecipientStatus, reason string, at time.Time) error {
	updates := map[string]any{
		"status":        status,
		"failed_reason": reason,
	}
	if status == models.RecipientStatusSent {
		updates["sent_at"] = at
	}
	return s.db.WithContext(ctx).
		Model(&models.CampaignRecipient{}).
		Where("campaign_id = ? AND email = ?", campaignID, email).
		Updates(updates).Error
}

func (s *Store) ResetRecipients(ctx context.Context, campaignID string, from, to models.RecipientStatus) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.CampaignRecipient{}).
		Where("campaign_id = ? AND status = ?", campaignID, from).
		Updates(map[string]any{"status": to, "failed_reason": ""})
	return res.RowsAffected, res.Error
}
