package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"auditwatch/internal/models"
)

// GormLoginHistory keeps the login set in the login_history table, for
// deployments without Redis. The primary key makes RecordFirstLogin atomic.
type GormLoginHistory struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLoginHistory(db *gorm.DB) *GormLoginHistory {
	return &GormLoginHistory{db: db, now: time.Now}
}

func (h *GormLoginHistory) HasLoggedInBefore(ctx context.Context, username string) (bool, error) {
	var count int64
	err := h.db.WithContext(ctx).Model(&models.LoginRecord{}).
		Where("username = ?", normalize(username)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check login history: %w", err)
	}
	return count > 0, nil
}

func (h *GormLoginHistory) RecordLogin(ctx context.Context, username string) error {
	_, err := h.RecordFirstLogin(ctx, username)
	return err
}

func (h *GormLoginHistory) RecordFirstLogin(ctx context.Context, username string) (bool, error) {
	res := h.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.LoginRecord{Username: normalize(username), FirstLoginAt: h.now()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to record login: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
