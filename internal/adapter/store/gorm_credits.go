package store

import (
	"context"
	"time"

	"shopassist/internal/domain/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreditStore struct {
	db *gorm.DB
}

func NewCreditStore(db *gorm.DB) *CreditStore {
	return &CreditStore{db: db}
}

func (s *CreditStore) FindAccount(ctx context.Context, shop string) (*entity.MerchantCreditAccount, error) {
	var account entity.MerchantCreditAccount
	err := s.db.WithContext(ctx).Where("shop = ?", shop).First(&account).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &account, nil
}

func (s *CreditStore) CreateAccount(ctx context.Context, account *entity.MerchantCreditAccount) error {
	return mapErr(s.db.WithContext(ctx).Create(account).Error)
}

// ResetPeriod rolls the account into the period [start, end) only while its
// stored period has ended before start. It reports false when another caller
// already rolled it forward.
func (s *CreditStore) ResetPeriod(ctx context.Context, accountID string, credits int, start, end time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&entity.MerchantCreditAccount{}).
		Where("id = ? AND period_end < ?", accountID, start).
		Updates(map[string]any{
			"total_credits":     credits,
			"used_credits":      0,
			"remaining_credits": credits,
			"period_start":      start,
			"period_end":        end,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecordUsage appends the log entry and, when debit is set, applies the
// counter changes in the same transaction. Remaining credits are clamped at zero.
func (s *CreditStore) RecordUsage(ctx context.Context, entry *entity.UsageLogEntry, debit bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		firstForCustomer := false
		if debit && entry.CustomerID != nil {
			var prior int64
			err := tx.Model(&entity.UsageLogEntry{}).
				Where("account_id = ? AND customer_id = ?", entry.AccountID, *entry.CustomerID).
				Count(&prior).Error
			if err != nil {
				return err
			}
			firstForCustomer = prior == 0
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if !debit {
			return nil
		}

		k := entry.CreditsUsed
		updates := map[string]any{
			"used_credits":      gorm.Expr("used_credits + ?", k),
			"remaining_credits": gorm.Expr("CASE WHEN remaining_credits - ? < 0 THEN 0 ELSE remaining_credits - ? END", k, k),
			"total_requests":    gorm.Expr("total_requests + 1"),
		}
		if firstForCustomer {
			updates["total_users"] = gorm.Expr("total_users + 1")
		}
		return tx.Model(&entity.MerchantCreditAccount{}).
			Where("id = ?", entry.AccountID).
			Updates(updates).Error
	})
}

func (s *CreditStore) UpdateSettings(ctx context.Context, accountID string, settings entity.AccountSettings) error {
	updates := map[string]any{}
	if settings.AIEnabled != nil {
		updates["ai_enabled"] = *settings.AIEnabled
	}
	if settings.AutoRecharge != nil {
		updates["auto_recharge"] = *settings.AutoRecharge
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&entity.MerchantCreditAccount{}).
		Where("id = ?", accountID).
		Updates(updates).Error
}

func (s *CreditStore) UsageSince(ctx context.Context, accountID string, since time.Time) ([]entity.UsageBreakdown, error) {
	var rows []entity.UsageBreakdown
	err := s.db.WithContext(ctx).
		Model(&entity.UsageLogEntry{}).
		Select(`request_type,
			COUNT(*) AS requests,
			SUM(CASE WHEN was_successful THEN 1 ELSE 0 END) AS successful,
			SUM(credits_used) AS credits,
			AVG(response_time_ms) AS avg_response_time`).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Group("request_type").
		Order("request_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *CreditStore) FindPlan(ctx context.Context, name string) (*entity.Plan, error) {
	var plan entity.Plan
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&plan).Error; err != nil {
		return nil, mapErr(err)
	}
	return &plan, nil
}

func (s *CreditStore) UpsertPlans(ctx context.Context, plans []entity.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"monthly_credits", "price_cents", "features", "updated_at"}),
	}).Create(&plans).Error
}
