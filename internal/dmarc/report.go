package dmarc

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the canonical rendering of report period bounds.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is an instant rendered in UTC using TimestampLayout.
type Timestamp time.Time

// TimestampFromUnix converts epoch seconds to a Timestamp.
func TimestampFromUnix(sec int64) Timestamp {
	return Timestamp(time.Unix(sec, 0).UTC())
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) String() string {
	return time.Time(t).UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = Timestamp(parsed)
	return nil
}

// Alignment is the expanded form of the adkim/aspf tags.
type Alignment string

const (
	AlignmentRelaxed Alignment = "relaxed"
	AlignmentStrict  Alignment = "strict"
)

// Policy values used by p, sp and the evaluated disposition. Values are
// copied from the report as-is; these constants name the ones RFC 7489 defines.
type Policy string

const (
	PolicyNone       Policy = "none"
	PolicyQuarantine Policy = "quarantine"
	PolicyReject     Policy = "reject"
)

// Result values of the policy evaluated dkim and spf fields.
type Result string

const (
	ResultPass Result = "pass"
	ResultFail Result = "fail"
)

// Provider identifies the organisation that generated a report.
type Provider struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	ExtraContact *string `json:"extra_contact,omitempty"`
}

// PolicySettings is the published DMARC policy the report was evaluated against.
type PolicySettings struct {
	DKIMAlignment   Alignment `json:"dkim_alignment"`
	SPFAlignment    Alignment `json:"spf_alignment"`
	Policy          Policy    `json:"policy"`
	SubDomainPolicy Policy    `json:"sub_domain_policy"`
	Percentage      int       `json:"percentage"`
}

// Period is the time range covered by a report.
type Period struct {
	From Timestamp `json:"from"`
	To   Timestamp `json:"to"`
}

// AuthResult is a single DKIM signature or SPF check result.
type AuthResult struct {
	Domain string `json:"domain"`
	Result string `json:"result"`
}

// AuthResults groups the detailed authentication results of a record.
type AuthResults struct {
	DKIM []AuthResult `json:"dkim"`
	SPF  []AuthResult `json:"spf"`
}

// Record is one row of a report.
type Record struct {
	SourceIP    string      `json:"source_ip"`
	Count       int         `json:"count"`
	Disposition Policy      `json:"disposition"`
	DKIMResult  Result      `json:"dkim_result"`
	SPFResult   Result      `json:"spf_result"`
	AuthResults AuthResults `json:"auth_results"`
}

// Report is the canonical form of an aggregate report. Its identity is the
// (Domain, ReportID) pair.
type Report struct {
	Provider       Provider       `json:"provider"`
	Domain         string         `json:"domain"`
	ReportID       string         `json:"report_id"`
	Period         Period         `json:"report_period"`
	PolicySettings PolicySettings `json:"policy_settings"`
	Records        []Record       `json:"records"`
}
