package llm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/raine/microstock-tagger/internal/storage"
	"github.com/rs/zerolog/log"
)

// UsageLedger receives one record per generation call.
type UsageLedger interface {
	RecordUsage(ctx context.Context, rec storage.UsageRecord) error
}

// RecordingGenerator wraps a Generator and writes every call to the usage ledger.
type RecordingGenerator struct {
	inner  Generator
	ledger UsageLedger
	model  string
	now    func() time.Time
}

// NewRecordingGenerator creates a recording generator. model is recorded for
// calls that fail before the provider reports which model answered.
func NewRecordingGenerator(inner Generator, ledger UsageLedger, model string) *RecordingGenerator {
	return &RecordingGenerator{inner: inner, ledger: ledger, model: model, now: time.Now}
}

// GenerateMetadata implements Generator. Ledger failures are logged and never
// change the generation outcome.
func (r *RecordingGenerator) GenerateMetadata(ctx context.Context, image Image) (*GenerationResult, error) {
	start := r.now()
	result, err := r.inner.GenerateMetadata(ctx, image)

	if r.ledger == nil {
		return result, err
	}

	rec := storage.UsageRecord{
		ID:         uuid.NewString(),
		Caller:     CallerFrom(ctx),
		Model:      r.model,
		Duration:   r.now().Sub(start),
		ImageBytes: image.Size(),
		MIMEType:   image.MIMEType,
		CreatedAt:  start,
	}
	if err != nil {
		rec.Outcome = string(KindOf(err))
	} else {
		rec.Outcome = storage.OutcomeSuccess
		if result.Model != "" {
			rec.Model = result.Model
		}
		rec.InputTokens = result.Usage.InputTokens
		rec.OutputTokens = result.Usage.OutputTokens
		rec.TotalTokens = result.Usage.TotalTokens
		rec.CostUSD = result.Usage.CostUSD
	}

	// The generation context may already be past its deadline
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if lerr := r.ledger.RecordUsage(recordCtx, rec); lerr != nil {
		log.Warn().Err(lerr).Str("caller", rec.Caller).Msg("failed to record generation usage")
	}

	return result, err
}
