package dmarc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Analyze is the lenient tier: it only checks that both mandatory sections
// are present before transforming. Field values are not validated.
func Analyze(payload []byte) (*Report, error) {
	doc, err := Load(payload)
	if err != nil {
		return nil, err
	}
	if _, _, err := sections(doc); err != nil {
		return nil, err
	}
	return Transform(doc)
}

// ValidateAndTransform is the strict tier for a single document: the full
// rule set must pass before the document is transformed.
func ValidateAndTransform(payload []byte) (*Report, error) {
	doc, err := Load(payload)
	if err != nil {
		return nil, err
	}
	if err := DefaultValidator().Validate(doc); err != nil {
		return nil, err
	}
	return Transform(doc)
}

// TransformBatch runs ValidateAndTransform over every payload in order and
// stops at the first failure, which is returned as a *DocumentError.
func TransformBatch(payloads [][]byte) ([]*Report, error) {
	reports := make([]*Report, 0, len(payloads))
	for i, payload := range payloads {
		report, err := ValidateAndTransform(payload)
		if err != nil {
			return nil, &DocumentError{Index: i, Err: err}
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Persister stores and removes reports on behalf of an owner. Persist must
// be all-or-nothing over the whole slice.
type Persister interface {
	Persist(ctx context.Context, reports []*Report, owner string) error
	Delete(ctx context.Context, reportIDs []string, owner string) error
}

// Recorder receives ingestion outcomes.
type Recorder interface {
	ObserveDocument(tier, outcome string)
	ObserveValidationFailure(kind string)
	ObservePersisted(reports, records int)
}

// Limits bounds a strict batch. Zero values disable a limit.
type Limits struct {
	MaxDocuments    int
	MaxDocumentSize int64
}

const (
	TierAnalyze = "analyze"
	TierStore   = "store"
)

// Service wires the two ingestion tiers to persistence, metrics and logging.
type Service struct {
	persister Persister
	recorder  Recorder
	limits    Limits
	logger    *slog.Logger
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithLimits(l Limits) Option {
	return func(s *Service) { s.limits = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. persister may be nil when only Analyze is used.
func NewService(persister Persister, opts ...Option) *Service {
	s := &Service{
		persister: persister,
		recorder:  nopRecorder{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Analyze runs the lenient tier on one payload.
func (s *Service) Analyze(payload []byte) (*Report, error) {
	report, err := Analyze(payload)
	s.observe(TierAnalyze, err)
	return report, err
}

// AnalyzeStrict validates and transforms one payload without persisting it.
// It is recorded under the analyze tier.
func (s *Service) AnalyzeStrict(payload []byte) (*Report, error) {
	report, err := ValidateAndTransform(payload)
	s.observe(TierAnalyze, err)
	return report, err
}

// Store runs the strict tier over a batch and persists it in one atomic
// unit. Nothing is handed to the persister unless every document passed.
func (s *Service) Store(ctx context.Context, payloads [][]byte, owner string) ([]*Report, error) {
	if err := s.checkLimits(payloads); err != nil {
		return nil, err
	}

	reports := make([]*Report, 0, len(payloads))
	for i, payload := range payloads {
		report, err := ValidateAndTransform(payload)
		s.observe(TierStore, err)
		if err != nil {
			s.logger.Debug("rejected document", "index", i, "error", err)
			return nil, &DocumentError{Index: i, Err: err}
		}
		reports = append(reports, report)
	}

	if s.persister == nil {
		return nil, &PersistenceError{Err: errors.New("no persister configured")}
	}
	if err := s.persister.Persist(ctx, reports, owner); err != nil {
		return nil, &PersistenceError{Err: err}
	}

	records := 0
	for _, r := range reports {
		records += len(r.Records)
	}
	s.recorder.ObservePersisted(len(reports), records)
	s.logger.Info("stored reports", "owner", owner, "reports", len(reports), "records", records)
	return reports, nil
}

// Delete removes the owner's reports with the given report ids.
func (s *Service) Delete(ctx context.Context, reportIDs []string, owner string) error {
	if s.persister == nil {
		return &PersistenceError{Err: errors.New("no persister configured")}
	}
	if err := s.persister.Delete(ctx, reportIDs, owner); err != nil {
		return &PersistenceError{Err: err}
	}
	s.logger.Info("deleted reports", "owner", owner, "report_ids", reportIDs)
	return nil
}

func (s *Service) checkLimits(payloads [][]byte) error {
	if len(payloads) == 0 {
		return fmt.Errorf("%w: no documents", ErrBatchLimit)
	}
	if s.limits.MaxDocuments > 0 && len(payloads) > s.limits.MaxDocuments {
		return fmt.Errorf("%w: %d documents, at most %d allowed", ErrBatchLimit, len(payloads), s.limits.MaxDocuments)
	}
	if s.limits.MaxDocumentSize > 0 {
		for i, p := range payloads {
			if int64(len(p)) > s.limits.MaxDocumentSize {
				return &DocumentError{
					Index: i,
					Err:   fmt.Errorf("%w: %d bytes, at most %d allowed", ErrBatchLimit, len(p), s.limits.MaxDocumentSize),
				}
			}
		}
	}
	return nil
}

func (s *Service) observe(tier string, err error) {
	s.recorder.ObserveDocument(tier, outcome(err))
	var verr *ValidationError
	if errors.As(err, &verr) {
		for _, k := range verr.Kinds() {
			s.recorder.ObserveValidationFailure(string(k))
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidXML):
		return "invalid_xml"
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrMapping):
		return "mapping_error"
	default:
		return "error"
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveDocument(string, string)  {}
func (nopRecorder) ObserveValidationFailure(string) {}
func (nopRecorder) ObservePersisted(int, int)       {}
