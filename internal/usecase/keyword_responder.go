package usecase

import (
	"context"
	"strings"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"
)

// KeywordResponder answers from the shop's FAQs when the AI is unavailable.
type KeywordResponder struct {
	catalog repository.CatalogRepository
}

func NewKeywordResponder(catalog repository.CatalogRepository) *KeywordResponder {
	return &KeywordResponder{catalog: catalog}
}

// Match returns the FAQ sharing the most keywords with message. Ties go to
// the first FAQ listed.
func (r *KeywordResponder) Match(ctx context.Context, shop, message string) (*entity.FAQ, error) {
	faqs, err := r.catalog.ListFAQs(ctx, shop)
	if err != nil {
		return nil, err
	}

	text := " " + normalizeWords(message) + " "
	var (
		best      *entity.FAQ
		bestScore int
	)
	for i := range faqs {
		score := 0
		for _, kw := range faqs[i].Keywords {
			kw = normalizeWords(kw)
			if kw != "" && strings.Contains(text, " "+kw+" ") {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = &faqs[i], score
		}
	}
	return best, nil
}

// normalizeWords lowercases s and collapses every non-alphanumeric run into one space.
func normalizeWords(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
	return strings.Join(fields, " ")
}
