package dmarc

// FieldRule checks a single-occurrence field addressed from the document root.
type FieldRule struct {
	Name   string
	Path   string
	Checks []Kind
}

// GroupRule checks every occurrence of a repeated sub-structure. Child paths
// are resolved relative to each occurrence.
type GroupRule struct {
	Name     string
	Path     string
	Children []ChildRule
}

// ChildRule is a relative field check inside a GroupRule occurrence.
type ChildRule struct {
	Path   string
	Checks []Kind
}

var defaultFieldRules = []FieldRule{
	{Name: "version", Path: "/feedback/version", Checks: []Kind{KindRequired, KindTrim, KindFloat}},
	{Name: "org_name", Path: "/feedback/report_metadata/org_name", Checks: []Kind{KindRequired, KindTrim, KindDomain}},
	{Name: "email", Path: "/feedback/report_metadata/email", Checks: []Kind{KindRequired, KindTrim, KindEmail}},
	{Name: "extra_contact_info", Path: "/feedback/report_metadata/extra_contact_info", Checks: []Kind{KindTrim, KindURL}},
	{Name: "report_id", Path: "/feedback/report_metadata/report_id", Checks: []Kind{KindRequired, KindTrim, KindInt}},
	{Name: "begin", Path: "/feedback/report_metadata/date_range/begin", Checks: []Kind{KindRequired, KindTrim, KindInt}},
	{Name: "end", Path: "/feedback/report_metadata/date_range/end", Checks: []Kind{KindRequired, KindTrim, KindInt}},

	{Name: "domain", Path: "/feedback/policy_published/domain", Checks: []Kind{KindRequired, KindTrim, KindDomain}},
	{Name: "adkim", Path: "/feedback/policy_published/adkim", Checks: []Kind{KindRequired, KindTrim}},
	{Name: "aspf", Path: "/feedback/policy_published/aspf", Checks: []Kind{KindRequired, KindTrim}},
	{Name: "p", Path: "/feedback/policy_published/p", Checks: []Kind{KindRequired, KindTrim}},
	{Name: "sp", Path: "/feedback/policy_published/sp", Checks: []Kind{KindRequired, KindTrim}},
	{Name: "pct", Path: "/feedback/policy_published/pct", Checks: []Kind{KindRequired, KindTrim, KindInt, KindPercent}},
	// np only exists in DMARCbis reports
	{Name: "np", Path: "/feedback/policy_published/np", Checks: []Kind{KindTrim}},

	{Name: "source_ip", Path: "/feedback/record/row/source_ip", Checks: []Kind{KindRequired, KindTrim, KindIP}},
	{Name: "count", Path: "/feedback/record/row/count", Checks: []Kind{KindRequired, KindTrim, KindInt}},
	{Name: "disposition", Path: "/feedback/record/row/policy_evaluated/disposition", Checks: []Kind{KindRequired, KindTrim}},
	{Name: "dkim", Path: "/feedback/record/row/policy_evaluated/dkim", Checks: []Kind{KindRequired, KindTrim}},
	{Name: "spf", Path: "/feedback/record/row/policy_evaluated/spf", Checks: []Kind{KindRequired, KindTrim}},

	{Name: "header_from", Path: "/feedback/record/identifiers/header_from", Checks: []Kind{KindRequired, KindTrim, KindDomain}},
}

var defaultGroupRules = []GroupRule{
	{
		Name: "dkim",
		Path: "/feedback/record/auth_results/dkim",
		Children: []ChildRule{
			{Path: "domain", Checks: []Kind{KindRequired, KindTrim, KindDomain}},
			{Path: "result", Checks: []Kind{KindRequired, KindTrim}},
			{Path: "selector", Checks: []Kind{KindTrim}},
		},
	},
	{
		Name: "spf",
		Path: "/feedback/record/auth_results/spf",
		Children: []ChildRule{
			{Path: "domain", Checks: []Kind{KindRequired, KindTrim, KindDomain}},
			{Path: "result", Checks: []Kind{KindRequired, KindTrim}},
		},
	},
}

// DefaultFieldRules returns a copy of the built-in flat rules, for callers
// that want to extend them before building their own Validator.
func DefaultFieldRules() []FieldRule {
	return NewValidator(defaultFieldRules, nil).fields
}

// DefaultGroupRules returns a copy of the built-in group rules.
func DefaultGroupRules() []GroupRule {
	return NewValidator(nil, defaultGroupRules).groups
}
