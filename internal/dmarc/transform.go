package dmarc

import (
	"strconv"
	"strings"
)

var alignments = map[string]Alignment{
	"r": AlignmentRelaxed,
	"s": AlignmentStrict,
}

// Transform builds a Report from a document that is known to contain the
// report_metadata and policy_published sections. Field formats are not
// checked here; malformed numbers become zero. Alignment codes other than
// r and s fail with a *MappingError.
func Transform(doc *Document) (*Report, error) {
	root := doc.Root()
	metadata, policy, err := sections(doc)
	if err != nil {
		return nil, err
	}

	dkimAlignment, err := alignment(doc, policy, "adkim")
	if err != nil {
		return nil, err
	}
	spfAlignment, err := alignment(doc, policy, "aspf")
	if err != nil {
		return nil, err
	}

	report := &Report{
		Provider: Provider{
			Name:  childText(doc, metadata, "org_name"),
			Email: childText(doc, metadata, "email"),
		},
		Domain:   childText(doc, policy, "domain"),
		ReportID: childText(doc, metadata, "report_id"),
		Period: Period{
			From: TimestampFromUnix(lenientInt(childText(doc, metadata, "date_range/begin"))),
			To:   TimestampFromUnix(lenientInt(childText(doc, metadata, "date_range/end"))),
		},
		PolicySettings: PolicySettings{
			DKIMAlignment:   dkimAlignment,
			SPFAlignment:    spfAlignment,
			Policy:          Policy(childText(doc, policy, "p")),
			SubDomainPolicy: Policy(childText(doc, policy, "sp")),
			Percentage:      int(lenientInt(childText(doc, policy, "pct"))),
		},
		Records: []Record{},
	}

	// absence of the node is the signal, an empty element still counts
	if extra, ok := doc.Child(metadata, "extra_contact_info"); ok {
		contact := doc.Text(extra)
		report.Provider.ExtraContact = &contact
	}

	for _, rec := range doc.Children(root, "record") {
		report.Records = append(report.Records, transformRecord(doc, rec))
	}

	return report, nil
}

func transformRecord(doc *Document, rec NodeID) Record {
	r := Record{
		SourceIP:    childText(doc, rec, "row/source_ip"),
		Count:       int(lenientInt(childText(doc, rec, "row/count"))),
		Disposition: Policy(childText(doc, rec, "row/policy_evaluated/disposition")),
		DKIMResult:  Result(childText(doc, rec, "row/policy_evaluated/dkim")),
		SPFResult:   Result(childText(doc, rec, "row/policy_evaluated/spf")),
		AuthResults: AuthResults{
			DKIM: []AuthResult{},
			SPF:  []AuthResult{},
		},
	}

	auth, ok := doc.Child(rec, "auth_results")
	if !ok {
		return r
	}
	for _, n := range doc.Children(auth, "dkim") {
		r.AuthResults.DKIM = append(r.AuthResults.DKIM, authResult(doc, n))
	}
	for _, n := range doc.Children(auth, "spf") {
		r.AuthResults.SPF = append(r.AuthResults.SPF, authResult(doc, n))
	}
	return r
}

func authResult(doc *Document, n NodeID) AuthResult {
	return AuthResult{
		Domain: childText(doc, n, "domain"),
		Result: childText(doc, n, "result"),
	}
}

// sections returns the two top-level sections every report must carry.
func sections(doc *Document) (metadata, policy NodeID, err error) {
	metadata, hasMetadata := doc.Child(doc.Root(), "report_metadata")
	policy, hasPolicy := doc.Child(doc.Root(), "policy_published")
	if !hasMetadata || !hasPolicy {
		return 0, 0, ErrMissingFields
	}
	return metadata, policy, nil
}

func alignment(doc *Document, policy NodeID, field string) (Alignment, error) {
	code := childText(doc, policy, field)
	a, ok := alignments[code]
	if !ok {
		return "", &MappingError{Field: field, Value: code}
	}
	return a, nil
}

// childText returns the text of the first element matching path below from,
// or an empty string.
func childText(doc *Document, from NodeID, path string) string {
	nodes := doc.QueryFrom(from, path)
	if len(nodes) == 0 {
		return ""
	}
	return doc.Text(nodes[0])
}

// lenientInt parses the leading decimal digits of s and returns 0 when
// there are none.
func lenientInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
