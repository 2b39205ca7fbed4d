package dmarc

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestTransformValid(t *testing.T) {
	t.Parallel()

	report, err := Transform(mustLoad(t, readTestdata(t, "valid.xml")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	contact := "https://support.google.com/a/answer/2466580"
	want := &Report{
		Provider: Provider{
			Name:         "google.com",
			Email:        "noreply-dmarc-support@google.com",
			ExtraContact: &contact,
		},
		Domain:   "example.com",
		ReportID: "12345678901234567890",
		Period: Period{
			From: Timestamp(time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)),
			To:   Timestamp(time.Date(2023, 11, 15, 23, 59, 59, 0, time.UTC)),
		},
		PolicySettings: PolicySettings{
			DKIMAlignment:   AlignmentRelaxed,
			SPFAlignment:    AlignmentStrict,
			Policy:          PolicyReject,
			SubDomainPolicy: PolicyQuarantine,
			Percentage:      100,
		},
		Records: []Record{
			{
				SourceIP:    "209.85.220.41",
				Count:       3,
				Disposition: PolicyNone,
				DKIMResult:  ResultPass,
				SPFResult:   ResultPass,
				AuthResults: AuthResults{
					DKIM: []AuthResult{{Domain: "example.com", Result: "pass"}},
					SPF:  []AuthResult{{Domain: "example.com", Result: "pass"}},
				},
			},
			{
				SourceIP:    "8.8.8.8",
				Count:       1,
				Disposition: PolicyReject,
				DKIMResult:  ResultFail,
				SPFResult:   ResultFail,
				AuthResults: AuthResults{
					DKIM: []AuthResult{
						{Domain: "other.example", Result: "fail"},
						{Domain: "example.com", Result: "fail"},
					},
					SPF: []AuthResult{{Domain: "mail.other.example", Result: "softfail"}},
				},
			},
		},
	}

	if !reflect.DeepEqual(report, want) {
		gotJSON, _ := json.MarshalIndent(report, "", "  ")
		wantJSON, _ := json.MarshalIndent(want, "", "  ")
		t.Fatalf("unexpected report:\n got %s\nwant %s", gotJSON, wantJSON)
	}
}

func TestTransformMinimalRoundTrip(t *testing.T) {
	t.Parallel()

	report, err := Transform(mustLoad(t, readTestdata(t, "minimal.xml")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Provider.ExtraContact != nil {
		t.Fatalf("extra contact should be absent, got %q", *report.Provider.ExtraContact)
	}
	if len(report.Records) != 1 {
		t.Fatalf("expected one record, got %d", len(report.Records))
	}
	auth := report.Records[0].AuthResults
	if auth.SPF == nil || len(auth.SPF) != 0 {
		t.Fatalf("expected an empty spf sequence, got %#v", auth.SPF)
	}
	if len(auth.DKIM) != 1 || auth.DKIM[0] != (AuthResult{Domain: "example.org", Result: "pass"}) {
		t.Fatalf("unexpected dkim results %#v", auth.DKIM)
	}
	if report.PolicySettings.DKIMAlignment != AlignmentStrict || report.PolicySettings.SPFAlignment != AlignmentRelaxed {
		t.Fatalf("unexpected alignments %+v", report.PolicySettings)
	}

	b, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("could not marshal report: %v", err)
	}
	s := string(b)
	for _, fragment := range []string{
		`"provider":{"name":"mail.example.net","email":"dmarc@example.net"}`,
		`"report_id":"42"`,
		`"report_period":{"from":"2023-11-15 00:00:00","to":"2023-11-15 23:59:59"}`,
		`"policy_settings":{"dkim_alignment":"strict","spf_alignment":"relaxed","policy":"none","sub_domain_policy":"none","percentage":50}`,
		`"auth_results":{"dkim":[{"domain":"example.org","result":"pass"}],"spf":[]}`,
	} {
		if !strings.Contains(s, fragment) {
			t.Fatalf("serialized report %s does not contain %s", s, fragment)
		}
	}

	var decoded Report
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("could not unmarshal report: %v", err)
	}
	if !decoded.Period.From.Time().Equal(report.Period.From.Time()) {
		t.Fatalf("period did not survive serialization: %s != %s", decoded.Period.From, report.Period.From)
	}
}

func TestTransformAlignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		adkim   string
		want    Alignment
		wantErr bool
	}{
		{"relaxed", "<adkim>r</adkim>", AlignmentRelaxed, false},
		{"strict", "<adkim>s</adkim>", AlignmentStrict, false},
		{"uppercase", "<adkim>R</adkim>", "", true},
		{"word", "<adkim>relaxed</adkim>", "", true},
		{"empty", "<adkim></adkim>", "", true},
		{"missing", "", "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := mutate(t, "minimal.xml", "<adkim>s</adkim>", tt.adkim)
			report, err := Transform(mustLoad(t, payload))
			if tt.wantErr {
				if !errors.Is(err, ErrMapping) {
					t.Fatalf("expected ErrMapping, got %v", err)
				}
				var merr *MappingError
				if !errors.As(err, &merr) || merr.Field != "adkim" {
					t.Fatalf("expected a MappingError for adkim, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.PolicySettings.DKIMAlignment != tt.want {
				t.Fatalf("got alignment %q, want %q", report.PolicySettings.DKIMAlignment, tt.want)
			}
		})
	}
}

func TestTransformLenientValues(t *testing.T) {
	t.Parallel()

	payload := mutate(t, "minimal.xml",
		"<count>7</count>", "<count>lots</count>",
		"<pct>50</pct>", "<pct>75%</pct>",
		"<begin>1700006400</begin>", "<begin>yesterday</begin>",
		"<disposition>none</disposition>", "<disposition>discard</disposition>",
	)
	report, err := Transform(mustLoad(t, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Records[0].Count != 0 {
		t.Fatalf("expected count 0, got %d", report.Records[0].Count)
	}
	if report.PolicySettings.Percentage != 75 {
		t.Fatalf("expected percentage 75, got %d", report.PolicySettings.Percentage)
	}
	if !report.Period.From.Time().Equal(time.Unix(0, 0)) {
		t.Fatalf("expected epoch start, got %s", report.Period.From)
	}
	if report.Records[0].Disposition != "discard" {
		t.Fatalf("disposition not copied verbatim: %q", report.Records[0].Disposition)
	}
}

func TestTransformWithoutAuthResults(t *testing.T) {
	t.Parallel()

	payload := []byte(`<feedback>
  <report_metadata><org_name>a.example</org_name></report_metadata>
  <policy_published><adkim>r</adkim><aspf>r</aspf></policy_published>
  <record><row><source_ip>192.0.2.1</source_ip></row></record>
  <record><auth_results><spf><domain>b.example</domain></spf></auth_results></record>
</feedback>`)
	report, err := Transform(mustLoad(t, payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(report.Records))
	}
	first := report.Records[0].AuthResults
	if first.DKIM == nil || first.SPF == nil || len(first.DKIM)+len(first.SPF) != 0 {
		t.Fatalf("expected empty auth results, got %#v", first)
	}
	second := report.Records[1].AuthResults
	if len(second.DKIM) != 0 || len(second.SPF) != 1 || second.SPF[0].Domain != "b.example" {
		t.Fatalf("unexpected auth results %#v", second)
	}
}

func TestTransformMissingSections(t *testing.T) {
	t.Parallel()

	_, err := Transform(mustLoad(t, []byte("<feedback><report_metadata/></feedback>")))
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestLenientInt(t *testing.T) {
	t.Parallel()

	tests := map[string]int64{
		"42":    42,
		" 42 ":  42,
		"42abc": 42,
		"abc":   0,
		"":      0,
		"-3":    -3,
		"+5":    5,
		"99999999999999999999": 0,
	}
	for in, want := range tests {
		if got := lenientInt(in); got != want {
			t.Fatalf("lenientInt(%q) = %d, want %d", in, got, want)
		}
	}
}
