package classify

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fiscal/fiscal-cli/internal/feedback"
	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

type memStore struct {
	records map[string]feedback.Record
	getErr  error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]feedback.Record{}}
}

func (m *memStore) Get(_ context.Context, key string) (*feedback.Record, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if rec, ok := m.records[key]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *memStore) Save(_ context.Context, key string, rec feedback.Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[key] = rec
	return nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func saleDoc() *model.Document {
	return &model.Document{
		ID:   "doc-1",
		Name: "nota.xml",
		Kind: model.KindNFeXML,
		Data: model.DocumentData{
			Emitente:     &model.Party{Nome: "Acme Distribuidora"},
			Destinatario: &model.Party{Nome: "Mercado Central"},
			Itens: []model.Item{
				{Descricao: "Arroz", NCM: "02013000", CFOP: "5102", Valor: 100},
				{Descricao: "Feijão", NCM: "02013000", CFOP: "5102", Valor: 50},
			},
		},
	}
}

func TestClassify_FromStructuredItems(t *testing.T) {
	result, err := New(newMemStore()).Classify(context.Background(), saleDoc(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Acme Distribuidora", result.Emitente)
	assert.Equal(t, "Mercado Central", result.Destinatario)
	assert.Equal(t, "5102", result.CFOP)
	assert.Equal(t, "Venda", result.Tipo)
	assert.Equal(t, "Alimentos", result.Ramo)
	assert.False(t, result.Overridden)
	// Two items: 0.75 + 2*0.02.
	assert.InDelta(t, 0.79, result.Confidence, 1e-9)
}

func TestClassify_ConfidenceCapsAtFiveItems(t *testing.T) {
	doc := saleDoc()
	for i := 0; i < 10; i++ {
		doc.Data.Itens = append(doc.Data.Itens, model.Item{Descricao: "x", CFOP: "5102", Valor: 1})
	}
	result, err := New(nil).Classify(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, result.Confidence, 1e-9)
}

func TestClassify_FromTextWithDiacritics(t *testing.T) {
	doc := &model.Document{
		ID:   "doc-2",
		Name: "scan.pdf",
		Kind: model.KindPDF,
		Data: model.DocumentData{
			Text: "Emitente: Loja de Informática\nDestinatário: João da Silva\nCFOP: 6.102 NCM: 85287200",
		},
	}
	result, err := New(nil).Classify(context.Background(), doc, nil)
	require.NoError(t, err)

	assert.Equal(t, "Loja de Informatica", result.Emitente)
	assert.Equal(t, "Joao da Silva", result.Destinatario)
	assert.Equal(t, "6102", result.CFOP)
	assert.Equal(t, "85287200", result.NCM)
	assert.Equal(t, "Venda", result.Tipo)
	assert.Equal(t, "Tecnologia da Informação", result.Ramo)
}

func TestClassify_UnknownCodes(t *testing.T) {
	doc := &model.Document{
		ID:   "doc-3",
		Name: "vazio.csv",
		Kind: model.KindCSV,
		Data: model.DocumentData{Itens: []model.Item{{Descricao: "Serviço", Valor: 10}}},
	}
	result, err := New(nil).Classify(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.Equal(t, "Operação", result.Tipo)
	assert.Equal(t, "Indefinido", result.Ramo)
}

func TestClassify_StoredFeedbackWins(t *testing.T) {
	store := newMemStore()
	key := feedback.Key("Acme Distribuidora", "Mercado Central", "nota.xml")
	store.records[key] = feedback.Record{Tipo: "Devolução", Ramo: "Geral", Confidence: 0.99}

	result, err := New(store).Classify(context.Background(), saleDoc(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Devolução", result.Tipo)
	assert.Equal(t, "Geral", result.Ramo)
	assert.True(t, result.Overridden)
	assert.Equal(t, 0.99, result.Confidence)
}

func TestClassify_ExplicitOverridePersisted(t *testing.T) {
	store := newMemStore()
	result, err := New(store).Classify(context.Background(), saleDoc(), &Override{Tipo: "Remessa"})
	require.NoError(t, err)

	assert.Equal(t, "Remessa", result.Tipo)
	assert.Equal(t, "Alimentos", result.Ramo)
	assert.True(t, result.Overridden)

	key := feedback.Key("Acme Distribuidora", "Mercado Central", "nota.xml")
	rec, ok := store.records[key]
	require.True(t, ok)
	assert.Equal(t, "Remessa", rec.Tipo)
	assert.Equal(t, 0.99, rec.Confidence)
}

func TestClassify_ColdPredictionSaved(t *testing.T) {
	store := newMemStore()
	_, err := New(store).Classify(context.Background(), saleDoc(), nil)
	require.NoError(t, err)

	key := feedback.Key("Acme Distribuidora", "Mercado Central", "nota.xml")
	rec, ok := store.records[key]
	require.True(t, ok)
	assert.Equal(t, "Venda", rec.Tipo)
}

func TestClassify_StoreFailureDegrades(t *testing.T) {
	store := newMemStore()
	store.getErr = eris.New("db offline")

	result, err := New(store).Classify(context.Background(), saleDoc(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Venda", result.Tipo)
	assert.False(t, result.Overridden)
}
