package store

import (
	"context"
	"errors"
	"time"

	"shopassist/internal/domain/entity"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CatalogStore struct {
	db *gorm.DB
}

func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// FindProducts returns the products in ids order; unknown ids are skipped.
func (s *CatalogStore) FindProducts(ctx context.Context, shop string, ids []string) ([]entity.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []entity.Product
	if err := s.db.WithContext(ctx).Where("shop = ? AND product_id IN ?", shop, ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]entity.Product, len(rows))
	for _, p := range rows {
		byID[p.ProductID] = p
	}
	out := make([]entity.Product, 0, len(rows))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *CatalogStore) UpsertProducts(ctx context.Context, products []entity.Product) error {
	if len(products) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range products {
		products[i].UpdatedAt = now
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "price", "handle", "image_url", "updated_at"}),
	}).Create(&products).Error
}

func (s *CatalogStore) ListFAQs(ctx context.Context, shop string) ([]entity.FAQ, error) {
	var faqs []entity.FAQ
	err := s.db.WithContext(ctx).Where("shop = ?", shop).Order("ref_id").Find(&faqs).Error
	return faqs, err
}

func (s *CatalogStore) UpsertFAQ(ctx context.Context, faq entity.FAQ) error {
	faq.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop"}, {Name: "ref_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"question", "answer", "keywords", "updated_at"}),
	}).Create(&faq).Error
}

// AssistantSettings falls back to the defaults when the shop saved none.
func (s *CatalogStore) AssistantSettings(ctx context.Context, shop string) (entity.AssistantSettings, error) {
	var settings entity.AssistantSettings
	err := s.db.WithContext(ctx).Where("shop = ?", shop).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity.DefaultAssistantSettings(shop), nil
	}
	if err != nil {
		return entity.AssistantSettings{}, err
	}
	if settings.HandoffMessage == "" {
		settings.HandoffMessage = entity.DefaultHandoffMessage
	}
	return settings, nil
}

func (s *CatalogStore) SaveAssistantSettings(ctx context.Context, settings entity.AssistantSettings) error {
	settings.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(&settings).Error
}
