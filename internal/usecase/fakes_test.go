package usecase

import (
	"context"
	"errors"
	"sync"

	"shopassist/internal/domain/entity"
)

type memMirror struct {
	mu        sync.Mutex
	msgs      map[string][]entity.MirrorMessage
	human     map[string]bool
	appendErr error
}

func newMemMirror() *memMirror {
	return &memMirror{msgs: map[string][]entity.MirrorMessage{}, human: map[string]bool{}}
}

func mirrorKey(shop, sessionID string) string { return shop + "/" + sessionID }

func (m *memMirror) Append(_ context.Context, shop, sessionID string, msg entity.MirrorMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	k := mirrorKey(shop, sessionID)
	m.msgs[k] = append(m.msgs[k], msg)
	return nil
}

func (m *memMirror) Messages(_ context.Context, shop, sessionID string) ([]entity.MirrorMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.MirrorMessage(nil), m.msgs[mirrorKey(shop, sessionID)]...), nil
}

func (m *memMirror) Metadata(_ context.Context, shop, sessionID string) (entity.SessionMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entity.SessionMetadata{IsHumanSupport: m.human[mirrorKey(shop, sessionID)]}, nil
}

func (m *memMirror) SetHumanSupport(_ context.Context, shop, sessionID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.human[mirrorKey(shop, sessionID)] = enabled
	return nil
}

func (m *memMirror) Move(_ context.Context, shop, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == to {
		return nil
	}
	fk, tk := mirrorKey(shop, from), mirrorKey(shop, to)
	m.msgs[tk] = append(m.msgs[tk], m.msgs[fk]...)
	delete(m.msgs, fk)
	if m.human[fk] {
		m.human[tk] = true
	}
	delete(m.human, fk)
	return nil
}

func (m *memMirror) Subscribe(context.Context, string, string) (<-chan entity.MirrorMessage, func(), error) {
	return nil, nil, errors.New("not supported")
}

func (m *memMirror) last(shop, sessionID string) entity.MirrorMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.msgs[mirrorKey(shop, sessionID)]
	if len(msgs) == 0 {
		return entity.MirrorMessage{}
	}
	return msgs[len(msgs)-1]
}

type fakeProvider struct {
	mu         sync.Mutex
	reply      string
	chunks     []string
	productIDs []string
	err        error
	calls      int
	lastReq    entity.ModelRequest
}

func (p *fakeProvider) response() *entity.ModelResponse {
	return &entity.ModelResponse{Content: p.reply, ProductIDs: p.productIDs, Model: "fake", TokenCount: 42}
}

func (p *fakeProvider) Generate(_ context.Context, req entity.ModelRequest) (*entity.ModelResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return p.response(), nil
}

func (p *fakeProvider) Stream(_ context.Context, req entity.ModelRequest, onChunk func(string) error) (*entity.ModelResponse, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	chunks, err := p.chunks, p.err
	p.mu.Unlock()
	for _, c := range chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}
	return p.response(), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeVectors struct {
	mu      sync.Mutex
	results map[string][]entity.ContextDoc // keyed by kind filter, "" for unfiltered
	saved   []entity.ContextDoc
	err     error
}

func (v *fakeVectors) Search(_ context.Context, _ []float32, _ float32, filters map[string]string, _ int) ([]entity.ContextDoc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	return v.results[filters["kind"]], nil
}

func (v *fakeVectors) Save(_ context.Context, doc entity.ContextDoc, _ []float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.saved = append(v.saved, doc)
	return nil
}

type fakeEmbedder struct{ err error }

func (e fakeEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeJudge bool

func (j fakeJudge) RequestsHuman(context.Context, string) bool { return bool(j) }

type fakeHinter map[string]string

func (h fakeHinter) ExtractHints(context.Context, string) map[string]string { return h }
