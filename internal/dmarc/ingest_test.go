package dmarc

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakePersister struct {
	calls     int
	persisted [][]*Report
	deleted   []string
	err       error
}

func (f *fakePersister) Persist(_ context.Context, reports []*Report, _ string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.persisted = append(f.persisted, reports)
	return nil
}

func (f *fakePersister) Delete(_ context.Context, ids []string, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeRecorder struct {
	documents map[string]int
	kinds     map[string]int
	reports   int
	records   int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{documents: map[string]int{}, kinds: map[string]int{}}
}

func (f *fakeRecorder) ObserveDocument(tier, outcome string) { f.documents[tier+"/"+outcome]++ }
func (f *fakeRecorder) ObserveValidationFailure(kind string) { f.kinds[kind]++ }
func (f *fakeRecorder) ObservePersisted(reports, records int) {
	f.reports += reports
	f.records += records
}

func TestAnalyzeMissingFields(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		"<feedback/>",
		"<feedback><report_metadata><org_name>x</org_name></report_metadata></feedback>",
		"<feedback><policy_published><adkim>r</adkim></policy_published></feedback>",
		"<something><report_metadata/></something>",
	} {
		_, err := Analyze([]byte(payload))
		if !errors.Is(err, ErrMissingFields) {
			t.Fatalf("%s: expected ErrMissingFields, got %v", payload, err)
		}
		if errors.Is(err, ErrValidation) {
			t.Fatalf("%s: lenient tier returned a validation error", payload)
		}
	}
}

func TestAnalyzeTolerantOfFieldValues(t *testing.T) {
	t.Parallel()

	payload := mutate(t, "minimal.xml",
		"<source_ip>1.1.1.1</source_ip>", "<source_ip>10.0.0.1</source_ip>",
		"<email>dmarc@example.net</email>", "<email> not-an-email </email>",
	)
	report, err := Analyze(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Records[0].SourceIP != "10.0.0.1" || report.Provider.Email != " not-an-email " {
		t.Fatalf("values not copied verbatim: %+v", report)
	}

	if _, err := ValidateAndTransform(payload); !errors.Is(err, ErrValidation) {
		t.Fatalf("strict tier accepted the document: %v", err)
	}
}

func TestAnalyzePropagatesMappingError(t *testing.T) {
	t.Parallel()

	payload := mutate(t, "minimal.xml", "<aspf>r</aspf>", "<aspf>x</aspf>")
	if _, err := Analyze(payload); !errors.Is(err, ErrMapping) {
		t.Fatalf("expected ErrMapping, got %v", err)
	}
}

func TestInvalidXMLBothTiers(t *testing.T) {
	t.Parallel()

	truncated := readTestdata(t, "valid.xml")
	truncated = truncated[:len(truncated)/2]

	for _, payload := range [][]byte{nil, []byte("PK\x03\x04garbage"), truncated} {
		if _, err := Analyze(payload); !errors.Is(err, ErrInvalidXML) {
			t.Fatalf("analyze: expected ErrInvalidXML, got %v", err)
		}
		if _, err := ValidateAndTransform(payload); !errors.Is(err, ErrInvalidXML) {
			t.Fatalf("strict: expected ErrInvalidXML, got %v", err)
		}
	}
}

func TestValidateAndTransform(t *testing.T) {
	t.Parallel()

	report, err := ValidateAndTransform(readTestdata(t, "valid.xml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.PolicySettings.Percentage < 0 || report.PolicySettings.Percentage > 100 {
		t.Fatalf("percentage out of range: %d", report.PolicySettings.Percentage)
	}

	for _, pct := range []string{"-5", "101", "150"} {
		payload := mutate(t, "valid.xml", "<pct>100</pct>", "<pct>"+pct+"</pct>")
		report, err := ValidateAndTransform(payload)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("pct %s: expected a validation error, got %v", pct, err)
		}
		if report != nil {
			t.Fatalf("pct %s: no report expected, got percentage %d", pct, report.PolicySettings.Percentage)
		}
	}
}

func TestTransformBatch(t *testing.T) {
	t.Parallel()

	reports, err := TransformBatch([][]byte{readTestdata(t, "valid.xml"), readTestdata(t, "minimal.xml")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 2 || reports[0].Domain != "example.com" || reports[1].Domain != "example.org" {
		t.Fatalf("reports not returned in input order: %+v", reports)
	}

	_, err = TransformBatch([][]byte{readTestdata(t, "valid.xml"), []byte("<feedback/>")})
	var derr *DocumentError
	if !errors.As(err, &derr) || derr.Index != 1 {
		t.Fatalf("expected a DocumentError for index 1, got %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected the validation error to be wrapped, got %v", err)
	}
}

func TestServiceStoreAtomicBatch(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	recorder := newFakeRecorder()
	svc := NewService(persister, WithRecorder(recorder))

	payloads := [][]byte{
		readTestdata(t, "valid.xml"),
		readTestdata(t, "minimal.xml"),
		mutate(t, "minimal.xml", "<count>7</count>", "<count>seven</count>"),
	}
	_, err := svc.Store(context.Background(), payloads, "alice")
	var derr *DocumentError
	if !errors.As(err, &derr) || derr.Index != 2 {
		t.Fatalf("expected the third document to fail, got %v", err)
	}
	if persister.calls != 0 {
		t.Fatalf("persister was called %d times for a failing batch", persister.calls)
	}
	if recorder.documents["store/ok"] != 2 || recorder.documents["store/validation_failed"] != 1 {
		t.Fatalf("unexpected document metrics %v", recorder.documents)
	}
	if recorder.kinds["int"] != 1 {
		t.Fatalf("unexpected validation kind metrics %v", recorder.kinds)
	}

	reports, err := svc.Store(context.Background(), payloads[:2], "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persister.calls != 1 || len(persister.persisted) != 1 || len(persister.persisted[0]) != 2 {
		t.Fatalf("expected one persist call with the whole batch, got %d calls", persister.calls)
	}
	if len(reports) != 2 || recorder.reports != 2 || recorder.records != 3 {
		t.Fatalf("unexpected result: %d reports, metrics %d/%d", len(reports), recorder.reports, recorder.records)
	}
}

func TestServiceStorePersistenceError(t *testing.T) {
	t.Parallel()

	dbErr := errors.New("disk full")
	svc := NewService(&fakePersister{err: dbErr})

	_, err := svc.Store(context.Background(), [][]byte{readTestdata(t, "valid.xml")}, "alice")
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected a PersistenceError, got %v", err)
	}
	if !errors.Is(err, dbErr) {
		t.Fatalf("driver error was not propagated: %v", err)
	}

	if err := svc.Delete(context.Background(), []string{"1"}, "alice"); !errors.Is(err, dbErr) {
		t.Fatalf("driver error was not propagated on delete: %v", err)
	}
}

func TestServiceLimits(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	svc := NewService(persister, WithLimits(Limits{MaxDocuments: 2, MaxDocumentSize: 1500}))
	valid := readTestdata(t, "minimal.xml")

	if _, err := svc.Store(context.Background(), nil, "alice"); !errors.Is(err, ErrBatchLimit) {
		t.Fatalf("expected an empty batch to be rejected, got %v", err)
	}
	if _, err := svc.Store(context.Background(), [][]byte{valid, valid, valid}, "alice"); !errors.Is(err, ErrBatchLimit) {
		t.Fatalf("expected too many documents to be rejected, got %v", err)
	}
	big := readTestdata(t, "valid.xml")
	if len(big) <= 1500 {
		t.Fatalf("fixture too small for the size limit test: %d bytes", len(big))
	}
	_, err := svc.Store(context.Background(), [][]byte{valid, big}, "alice")
	var derr *DocumentError
	if !errors.Is(err, ErrBatchLimit) || !errors.As(err, &derr) || derr.Index != 1 {
		t.Fatalf("expected the oversized second document to be rejected, got %v", err)
	}
	if persister.calls != 0 {
		t.Fatal("persister called for a rejected batch")
	}
}

func TestServiceDelete(t *testing.T) {
	t.Parallel()

	persister := &fakePersister{}
	svc := NewService(persister)
	if err := svc.Delete(context.Background(), []string{"42", "43"}, "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(persister.deleted) != 2 {
		t.Fatalf("unexpected deleted ids %v", persister.deleted)
	}

	if err := NewService(nil).Delete(context.Background(), []string{"42"}, "alice"); err == nil {
		t.Fatal("expected an error without a persister")
	}
}

func TestServiceAnalyzeRecords(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder()
	svc := NewService(nil, WithRecorder(rec))

	if _, err := svc.Analyze(readTestdata(t, "minimal.xml")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Analyze([]byte("<feedback>")); !errors.Is(err, ErrInvalidXML) {
		t.Fatalf("expected ErrInvalidXML, got %v", err)
	}
	if _, err := svc.AnalyzeStrict(readTestdata(t, "valid.xml")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	broken := mutate(t, "minimal.xml", "<pct>50</pct>", "<pct>150</pct>")
	if _, err := svc.AnalyzeStrict(broken); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	want := map[string]int{
		TierAnalyze + "/ok":                2,
		TierAnalyze + "/invalid_xml":       1,
		TierAnalyze + "/validation_failed": 1,
	}
	if !reflect.DeepEqual(rec.documents, want) {
		t.Fatalf("unexpected documents %v", rec.documents)
	}
	if rec.kinds[string(KindPercent)] != 1 || len(rec.kinds) != 1 {
		t.Fatalf("unexpected validation kinds %v", rec.kinds)
	}
	if rec.reports != 0 {
		t.Fatalf("analyze must not persist, got %d reports", rec.reports)
	}
}
