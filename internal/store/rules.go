package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"auditwatch/internal/models"
	"auditwatch/internal/notification"
)

// GormRuleStore persists notification rules in the notification_rules table.
type GormRuleStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormRuleStore(db *gorm.DB, logger *zap.Logger) *GormRuleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormRuleStore{db: db, logger: logger}
}

// ListEnabledRules returns enabled rules ordered by id. Rows whose JSON
// columns cannot be decoded are logged and left out.
func (s *GormRuleStore) ListEnabledRules(ctx context.Context) ([]notification.RuleDefinition, error) {
	var rows []models.NotificationRule
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	return s.decodeAll(rows), nil
}

// ListRules returns every rule, enabled or not.
func (s *GormRuleStore) ListRules(ctx context.Context) ([]notification.RuleDefinition, error) {
	var rows []models.NotificationRule
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return s.decodeAll(rows), nil
}

func (s *GormRuleStore) GetRule(ctx context.Context, id uint) (notification.RuleDefinition, error) {
	var row models.NotificationRule
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notification.RuleDefinition{}, fmt.Errorf("rule %d: %w", id, notification.ErrRuleNotFound)
		}
		return notification.RuleDefinition{}, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return fromModel(row)
}

// SaveRule creates def when its id is zero and updates it otherwise.
// The assigned id is written back to def.
func (s *GormRuleStore) SaveRule(ctx context.Context, def *notification.RuleDefinition) error {
	row, err := toModel(*def)
	if err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	if def.ID == 0 {
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create rule: %w", err)
		}
		def.ID = row.ID
		return nil
	}

	var existing models.NotificationRule
	if err := db.Select("id", "created_at").First(&existing, def.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("rule %d: %w", def.ID, notification.ErrRuleNotFound)
		}
		return fmt.Errorf("failed to load rule %d: %w", def.ID, err)
	}
	row.CreatedAt = existing.CreatedAt
	if err := db.Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update rule %d: %w", def.ID, err)
	}
	return nil
}

func (s *GormRuleStore) DeleteRule(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.NotificationRule{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %d: %w", id, notification.ErrRuleNotFound)
	}
	return nil
}

func (s *GormRuleStore) decodeAll(rows []models.NotificationRule) []notification.RuleDefinition {
	defs := make([]notification.RuleDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := fromModel(row)
		if err != nil {
			s.logger.Warn("Skipping undecodable notification rule", zap.Uint("rule_id", row.ID), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

func toModel(def notification.RuleDefinition) (models.NotificationRule, error) {
	row := models.NotificationRule{
		ID:                   def.ID,
		Name:                 def.Name,
		Enabled:              def.Enabled,
		Subject:              def.Subject,
		Body:                 def.Body,
		CriticalOnly:         def.CriticalOnly,
		FirstTimeLoginOnly:   def.FirstTimeLoginOnly,
		FailThresholdKnown:   def.FailThresholdKnown,
		FailThresholdUnknown: def.FailThresholdUnknown,
		Threshold:            def.Threshold,
	}

	fields := []struct {
		dst *string
		src any
	}{
		{&row.Triggers, def.Triggers},
		{&row.ViewState, def.ViewState},
		{&row.Emails, def.Emails},
		{&row.Phones, def.Phones},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return row, fmt.Errorf("failed to encode rule %d: %w", def.ID, err)
		}
		*f.dst = string(data)
	}
	return row, nil
}

func fromModel(row models.NotificationRule) (notification.RuleDefinition, error) {
	def := notification.RuleDefinition{
		ID:                   row.ID,
		Name:                 row.Name,
		Enabled:              row.Enabled,
		Subject:              row.Subject,
		Body:                 row.Body,
		CriticalOnly:         row.CriticalOnly,
		FirstTimeLoginOnly:   row.FirstTimeLoginOnly,
		FailThresholdKnown:   row.FailThresholdKnown,
		FailThresholdUnknown: row.FailThresholdUnknown,
		Threshold:            row.Threshold,
	}

	fields := []struct {
		src string
		dst any
	}{
		{row.Triggers, &def.Triggers},
		{row.ViewState, &def.ViewState},
		{row.Emails, &def.Emails},
		{row.Phones, &def.Phones},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return def, fmt.Errorf("failed to decode rule %d: %w", row.ID, err)
		}
	}
	return def, nil
}
