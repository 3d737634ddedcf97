package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raine/microstock-tagger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type generatorMock struct {
	mock.Mock
}

func (m *generatorMock) GenerateMetadata(ctx context.Context, image Image) (*GenerationResult, error) {
	args := m.Called(ctx, image)
	result, _ := args.Get(0).(*GenerationResult)
	return result, args.Error(1)
}

type ledgerMock struct {
	mock.Mock
}

func (m *ledgerMock) RecordUsage(ctx context.Context, rec storage.UsageRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func TestRecordingGenerator_Success(t *testing.T) {
	inner := new(generatorMock)
	ledger := new(ledgerMock)
	img := Image{Data: make([]byte, 2048), MIMEType: "image/jpeg"}

	want := &GenerationResult{
		Metadata: &StockMetadata{Title: "T", Description: "D", Keywords: []string{"k"}, Category: "C"},
		Usage:    Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: 0.001},
		Model:    "gemini-2.5-flash",
	}
	inner.On("GenerateMetadata", mock.Anything, img).Return(want, nil)
	ledger.On("RecordUsage", mock.Anything, mock.MatchedBy(func(rec storage.UsageRecord) bool {
		return rec.Outcome == storage.OutcomeSuccess &&
			rec.Caller == "web" &&
			rec.Model == "gemini-2.5-flash" &&
			rec.TotalTokens == 15 &&
			rec.ImageBytes == 2048 &&
			rec.MIMEType == "image/jpeg" &&
			rec.ID != ""
	})).Return(nil)

	gen := NewRecordingGenerator(inner, ledger, "configured-model")
	got, err := gen.GenerateMetadata(WithCaller(context.Background(), "web"), img)
	require.NoError(t, err)
	assert.Same(t, want, got)

	inner.AssertExpectations(t)
	ledger.AssertExpectations(t)
}

func TestRecordingGenerator_FailureRecordsKind(t *testing.T) {
	inner := new(generatorMock)
	ledger := new(ledgerMock)
	img := Image{Data: []byte("x"), MIMEType: "image/png"}

	inner.On("GenerateMetadata", mock.Anything, img).Return(nil, emptyResponseError())
	ledger.On("RecordUsage", mock.Anything, mock.MatchedBy(func(rec storage.UsageRecord) bool {
		return rec.Outcome == string(KindGeneration) && rec.Model == "configured-model" && rec.Caller == "unknown"
	})).Return(nil)

	gen := NewRecordingGenerator(inner, ledger, "configured-model")
	got, err := gen.GenerateMetadata(context.Background(), img)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, ErrEmptyResponse))

	ledger.AssertExpectations(t)
}

func TestRecordingGenerator_LedgerErrorIsIgnored(t *testing.T) {
	inner := new(generatorMock)
	ledger := new(ledgerMock)
	img := Image{Data: []byte("x"), MIMEType: "image/png"}
	want := &GenerationResult{Metadata: &StockMetadata{Title: "T"}}

	inner.On("GenerateMetadata", mock.Anything, img).Return(want, nil)
	ledger.On("RecordUsage", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	gen := NewRecordingGenerator(inner, ledger, "m")
	got, err := gen.GenerateMetadata(context.Background(), img)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestRecordingGenerator_RecordsAfterCancellation(t *testing.T) {
	inner := new(generatorMock)
	ledger := new(ledgerMock)
	img := Image{Data: []byte("x"), MIMEType: "image/png"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner.On("GenerateMetadata", mock.Anything, img).Return(nil, upstreamError(context.Canceled))
	ledger.On("RecordUsage", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil)

	gen := NewRecordingGenerator(inner, ledger, "m")
	_, err := gen.GenerateMetadata(ctx, img)
	require.Error(t, err)
	ledger.AssertExpectations(t)
}

func TestRecordingGenerator_Duration(t *testing.T) {
	inner := new(generatorMock)
	ledger := new(ledgerMock)
	img := Image{Data: []byte("x"), MIMEType: "image/png"}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(1500 * time.Millisecond)}

	inner.On("GenerateMetadata", mock.Anything, img).Return(&GenerationResult{Metadata: &StockMetadata{}}, nil)
	ledger.On("RecordUsage", mock.Anything, mock.MatchedBy(func(rec storage.UsageRecord) bool {
		return rec.Duration == 1500*time.Millisecond && rec.CreatedAt.Equal(base)
	})).Return(nil)

	gen := NewRecordingGenerator(inner, ledger, "m")
	gen.now = func() time.Time {
		next := ticks[0]
		ticks = ticks[1:]
		return next
	}
	_, err := gen.GenerateMetadata(context.Background(), img)
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestRecordingGenerator_NilLedger(t *testing.T) {
	inner := new(generatorMock)
	img := Image{Data: []byte("x"), MIMEType: "image/png"}
	inner.On("GenerateMetadata", mock.Anything, img).Return(&GenerationResult{}, nil)

	gen := NewRecordingGenerator(inner, nil, "m")
	_, err := gen.GenerateMetadata(context.Background(), img)
	require.NoError(t, err)
}

func TestCallerFrom(t *testing.T) {
	assert.Equal(t, "unknown", CallerFrom(context.Background()))
	assert.Equal(t, "telegram", CallerFrom(WithCaller(context.Background(), "telegram")))
	assert.Equal(t, "unknown", CallerFrom(WithCaller(context.Background(), "")))
}
