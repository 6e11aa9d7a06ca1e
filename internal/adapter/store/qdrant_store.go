package store

import (
	"context"
	"fmt"
	"time"

	"shopassist/internal/domain/entity"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Payload fields filtered on at query time.
var indexedFields = []string{"shop", "kind"}

type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	log            *zap.Logger
}

func NewQdrantStore(client *qdrant.Client, collectionName string, log *zap.Logger) *QdrantStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &QdrantStore{
		client:         client,
		collectionName: collectionName,
		log:            log,
	}
}

func (s *QdrantStore) InitCollection(ctx context.Context, dim uint64) error {
	_, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		st, ok := status.FromError(err)
		if ok && st.Code() == codes.NotFound {
			err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: s.collectionName,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     dim,
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				return fmt.Errorf("failed to create collection: %w", err)
			}
		} else {
			return err
		}
	}

	// Every search is scoped to one shop, so the filter fields need keyword indexes.
	for _, field := range indexedFields {
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			s.log.Warn("could not create payload index (might already exist)",
				zap.String("field", field), zap.Error(err))
		}
	}

	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, threshold float32, filters map[string]string, limit int) ([]entity.ContextDoc, error) {
	var mustConditions []*qdrant.Condition
	for key, value := range filters {
		mustConditions = append(mustConditions, qdrant.NewMatch(key, value))
	}
	if limit <= 0 {
		limit = 5
	}

	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter:         &qdrant.Filter{Must: mustConditions},
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: &threshold,
	})
	if err != nil {
		return nil, err
	}

	docs := make([]entity.ContextDoc, 0, len(res))
	for _, hit := range res {
		docs = append(docs, docFromPayload(hit.Payload, hit.Score))
	}
	return docs, nil
}

// Save upserts doc. The point id is derived from shop, kind and ref id, so
// re-indexing the same document replaces it.
func (s *QdrantStore) Save(ctx context.Context, doc entity.ContextDoc, vector []float32) error {
	keywords := make([]any, len(doc.Keywords))
	for i, k := range doc.Keywords {
		keywords[i] = k
	}
	payload := map[string]any{
		"shop":       doc.Shop,
		"kind":       string(doc.Kind),
		"ref_id":     doc.RefID,
		"title":      doc.Title,
		"content":    doc.Content,
		"keywords":   keywords,
		"updated_at": time.Now().Unix(),
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(PointID(doc)),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	return err
}

func PointID(doc entity.ContextDoc) string {
	name := fmt.Sprintf("%s/%s/%s", doc.Shop, doc.Kind, doc.RefID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func docFromPayload(payload map[string]*qdrant.Value, score float32) entity.ContextDoc {
	doc := entity.ContextDoc{
		Shop:    payload["shop"].GetStringValue(),
		Kind:    entity.DocKind(payload["kind"].GetStringValue()),
		RefID:   payload["ref_id"].GetStringValue(),
		Title:   payload["title"].GetStringValue(),
		Content: payload["content"].GetStringValue(),
		Score:   score,
	}
	for _, v := range payload["keywords"].GetListValue().GetValues() {
		doc.Keywords = append(doc.Keywords, v.GetStringValue())
	}
	return doc
}
