package usecase

import (
	"context"
	"fmt"
	"strings"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"

	"go.uber.org/zap"
)

const defaultRelevanceThreshold = 0.55

// KnowledgeService indexes store training data and retrieves the documents
// relevant to a shopper message.
type KnowledgeService struct {
	vectors   repository.VectorStore
	embedder  repository.Embedder
	catalog   repository.CatalogRepository
	hinter    repository.RetrievalHinter
	limit     int
	threshold float32
	log       *zap.Logger
}

func NewKnowledgeService(vs repository.VectorStore, emb repository.Embedder, catalog repository.CatalogRepository, hinter repository.RetrievalHinter, limit int, log *zap.Logger) *KnowledgeService {
	if log == nil {
		log = zap.NewNop()
	}
	if limit <= 0 {
		limit = 5
	}
	return &KnowledgeService{
		vectors:   vs,
		embedder:  emb,
		catalog:   catalog,
		hinter:    hinter,
		limit:     limit,
		threshold: defaultRelevanceThreshold,
		log:       log,
	}
}

// Retrieve never fails a turn: any retrieval problem yields no context.
func (k *KnowledgeService) Retrieve(ctx context.Context, shop, message string) []entity.ContextDoc {
	vector, err := k.embedder.CreateEmbedding(ctx, message)
	if err != nil {
		k.log.Warn("knowledge retrieval skipped: embedding failed", zap.String("shop", shop), zap.Error(err))
		return nil
	}

	filters := map[string]string{"shop": shop}
	if k.hinter != nil {
		if kind := k.hinter.ExtractHints(ctx, message)["kind"]; entity.DocKind(kind).Valid() {
			hinted := map[string]string{"shop": shop, "kind": kind}
			docs, err := k.vectors.Search(ctx, vector, k.threshold, hinted, k.limit)
			if err == nil && len(docs) > 0 {
				return docs
			}
		}
	}

	docs, err := k.vectors.Search(ctx, vector, k.threshold, filters, k.limit)
	if err != nil {
		k.log.Warn("knowledge retrieval failed", zap.String("shop", shop), zap.Error(err))
		return nil
	}
	return docs
}

// Index embeds and stores doc. FAQ documents are also kept relationally for
// the keyword responder.
func (k *KnowledgeService) Index(ctx context.Context, doc entity.ContextDoc) error {
	if strings.TrimSpace(doc.Shop) == "" || strings.TrimSpace(doc.RefID) == "" || strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("%w: shop, refId and content are required", entity.ErrInvalidRequest)
	}
	if !doc.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", entity.ErrInvalidRequest, doc.Kind)
	}

	if doc.Kind == entity.DocFAQ {
		err := k.catalog.UpsertFAQ(ctx, entity.FAQ{
			Shop:     doc.Shop,
			RefID:    doc.RefID,
			Question: doc.Title,
			Answer:   doc.Content,
			Keywords: doc.Keywords,
		})
		if err != nil {
			return fmt.Errorf("store faq: %w", err)
		}
	}

	vector, err := k.embedder.CreateEmbedding(ctx, embeddingText(doc))
	if err != nil {
		return fmt.Errorf("embed %s/%s: %w", doc.Kind, doc.RefID, err)
	}
	if err := k.vectors.Save(ctx, doc, vector); err != nil {
		return fmt.Errorf("save %s/%s: %w", doc.Kind, doc.RefID, err)
	}
	return nil
}

// SyncProducts stores a catalog batch and indexes every product. Indexing
// failures are logged per product; the count of indexed products is returned.
func (k *KnowledgeService) SyncProducts(ctx context.Context, shop string, products []entity.Product) (int, error) {
	for i := range products {
		products[i].Shop = shop
		if strings.TrimSpace(products[i].ProductID) == "" || strings.TrimSpace(products[i].Title) == "" {
			return 0, fmt.Errorf("%w: product %d needs productId and title", entity.ErrInvalidRequest, i)
		}
	}
	if err := k.catalog.UpsertProducts(ctx, products); err != nil {
		return 0, fmt.Errorf("store products: %w", err)
	}

	indexed := 0
	for _, p := range products {
		doc := entity.ContextDoc{
			Shop:    shop,
			Kind:    entity.DocProduct,
			RefID:   p.ProductID,
			Title:   p.Title,
			Content: productContent(p),
		}
		if err := k.Index(ctx, doc); err != nil {
			k.log.Warn("product not indexed", zap.String("shop", shop), zap.String("product_id", p.ProductID), zap.Error(err))
			continue
		}
		indexed++
	}
	return indexed, nil
}

func embeddingText(doc entity.ContextDoc) string {
	if doc.Title == "" {
		return doc.Content
	}
	return doc.Title + "\n" + doc.Content
}

func productContent(p entity.Product) string {
	var b strings.Builder
	b.WriteString(p.Title)
	if p.Price != "" {
		b.WriteString(" (price " + p.Price + ")")
	}
	if p.Description != "" {
		b.WriteString(". " + p.Description)
	}
	return b.String()
}
