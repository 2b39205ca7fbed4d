package dmarc

import (
	"math"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind names an atomic value validator.
type Kind string

const (
	KindRequired Kind = "required"
	KindTrim     Kind = "trim"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindEmail    Kind = "email"
	KindDomain   Kind = "domain"
	KindURL      Kind = "url"
	KindIP       Kind = "ip"
	KindPercent  Kind = "percent"
)

// predicate reports whether a check holds for a whole node-set.
type predicate func(doc *Document, nodes []NodeID) bool

var (
	validate   = validator.New()
	intPattern = regexp.MustCompile(`^\d+$`)

	// decimal and exponent notation only, no hex floats
	floatPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

	// addresses rejected by the ip check: private use plus reserved ranges
	nonPublicPrefixes = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
		netip.MustParsePrefix("0.0.0.0/8"),
		netip.MustParsePrefix("127.0.0.0/8"),
		netip.MustParsePrefix("169.254.0.0/16"),
		netip.MustParsePrefix("240.0.0.0/4"),
	}
)

// predicate returns the check for k. Kinds outside the known set return
// ok == false and are skipped by the engine instead of failing the document.
func (k Kind) predicate() (p predicate, ok bool) {
	switch k {
	case KindRequired:
		return func(_ *Document, nodes []NodeID) bool { return len(nodes) > 0 }, true
	case KindTrim:
		return every(isTrimmed), true
	case KindInt:
		return every(isInt), true
	case KindFloat:
		return every(isFloat), true
	case KindEmail:
		return every(isEmail), true
	case KindDomain:
		return every(isDomain), true
	case KindURL:
		return every(isURL), true
	case KindIP:
		return every(isPublicIPv4), true
	case KindPercent:
		return every(isPercent), true
	default:
		return nil, false
	}
}

// every lifts a per-value check to an AND over the node-set. An empty
// node-set passes.
func every(check func(string) bool) predicate {
	return func(doc *Document, nodes []NodeID) bool {
		for _, n := range nodes {
			if !check(doc.Text(n)) {
				return false
			}
		}
		return true
	}
}

func isTrimmed(s string) bool {
	return s == strings.TrimSpace(s)
}

func isInt(s string) bool {
	return intPattern.MatchString(s)
}

func isFloat(s string) bool {
	if !floatPattern.MatchString(s) {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func isPercent(s string) bool {
	if !isInt(s) {
		return false
	}
	v, err := strconv.Atoi(s)
	return err == nil && v <= 100
}

func isEmail(s string) bool {
	return validate.Var(s, "email") == nil
}

func isDomain(s string) bool {
	// fully qualified form
	s = strings.TrimSuffix(s, ".")
	if len(s) > 253 || validate.Var(s, "hostname_rfc1123") != nil {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}

func isURL(s string) bool {
	return validate.Var(s, "url") == nil
}

func isPublicIPv4(s string) bool {
	if validate.Var(s, "ipv4") != nil {
		return false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	for _, p := range nonPublicPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}
