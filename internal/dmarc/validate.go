package dmarc

import (
	"fmt"
	"strings"
)

// Validator evaluates field and group rules against a Document and reports
// every violation at once. A Validator is immutable after construction and
// safe for concurrent use.
type Validator struct {
	fields []FieldRule
	groups []GroupRule
}

var defaultValidator = NewValidator(defaultFieldRules, defaultGroupRules)

// DefaultValidator returns the shared validator holding the RFC 7489
// aggregate report rules.
func DefaultValidator() *Validator {
	return defaultValidator
}

// NewValidator copies the given rules into a new Validator.
func NewValidator(fields []FieldRule, groups []GroupRule) *Validator {
	v := &Validator{
		fields: make([]FieldRule, len(fields)),
		groups: make([]GroupRule, len(groups)),
	}
	for i, f := range fields {
		f.Checks = append([]Kind(nil), f.Checks...)
		v.fields[i] = f
	}
	for i, g := range groups {
		children := make([]ChildRule, len(g.Children))
		for j, c := range g.Children {
			c.Checks = append([]Kind(nil), c.Checks...)
			children[j] = c
		}
		g.Children = children
		v.groups[i] = g
	}
	return v
}

// failures collects failing identifiers per kind, remembering the order in
// which kinds and identifiers were first seen.
type failures struct {
	order []Kind
	ids   map[Kind][]string
	seen  map[Kind]map[string]struct{}
}

func newFailures() *failures {
	return &failures{
		ids:  make(map[Kind][]string),
		seen: make(map[Kind]map[string]struct{}),
	}
}

func (f *failures) add(kind Kind, id string) {
	seen, ok := f.seen[kind]
	if !ok {
		seen = make(map[string]struct{})
		f.seen[kind] = seen
		f.order = append(f.order, kind)
	}
	if _, dup := seen[id]; dup {
		return
	}
	seen[id] = struct{}{}
	f.ids[kind] = append(f.ids[kind], id)
}

// Validate returns nil when doc satisfies every rule, otherwise a
// *ValidationError with one message per failing validator kind.
func (v *Validator) Validate(doc *Document) error {
	f := newFailures()

	for _, rule := range v.fields {
		nodes := doc.Query(rule.Path)
		for _, kind := range rule.Checks {
			check, ok := kind.predicate()
			if !ok {
				continue
			}
			if !check(doc, nodes) {
				f.add(kind, rule.Name)
			}
		}
	}

	for _, group := range v.groups {
		for i, occurrence := range doc.Query(group.Path) {
			for _, child := range group.Children {
				nodes := doc.QueryFrom(occurrence, child.Path)
				for _, kind := range child.Checks {
					check, ok := kind.predicate()
					if !ok {
						continue
					}
					if !check(doc, nodes) {
						f.add(kind, fmt.Sprintf("%s[%d].%s", group.Name, i, child.Path))
					}
				}
			}
		}
	}

	if len(f.order) == 0 {
		return nil
	}
	messages := make([]string, len(f.order))
	for i, kind := range f.order {
		messages[i] = message(kind, f.ids[kind])
	}
	return newValidationError(f.order, messages)
}

func message(kind Kind, ids []string) string {
	var prefix string
	switch kind {
	case KindRequired:
		prefix = "The following required XML fields are missing or empty: "
	case KindTrim:
		prefix = "The following fields contain disallowed whitespace characters: "
	case KindInt:
		prefix = "The following fields do not contain valid integer values: "
	case KindFloat:
		prefix = "The following fields do not contain valid floating-point numbers: "
	case KindEmail:
		prefix = "The following fields do not contain valid email addresses: "
	case KindDomain:
		prefix = "The following fields are not valid domain names: "
	case KindURL:
		prefix = "The following fields are not valid URLs: "
	case KindIP:
		prefix = "The following fields are not valid public IPv4 addresses: "
	case KindPercent:
		prefix = "The following fields are not percentages between 0 and 100: "
	default:
		prefix = fmt.Sprintf("The following fields failed validation for rule '%s': ", kind)
	}
	return prefix + strings.Join(ids, ", ")
}
