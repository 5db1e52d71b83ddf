package objectname

import (
	"path"
	"strings"
)

// Pattern matches names. The domain may contain '*' and '?' globs. A
// property list ending in ",*" (or consisting of "*" alone) is open: names
// may carry extra properties. A closed list must match the property set
// exactly.
type Pattern struct {
	domain string
	props  []Property
	open   bool
}

// ParsePattern reads "domain:k=v,...[,*]". "*" and "" match everything.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" || s == "*:*" {
		return Pattern{domain: "*", open: true}, nil
	}
	dom, list, ok := strings.Cut(s, ":")
	if !ok {
		return Pattern{}, ErrMalformed
	}
	if dom == "" {
		dom = "*"
	}
	p := Pattern{domain: dom}
	if list == "*" || list == "" {
		p.open = true
		return p, nil
	}
	if strings.HasSuffix(list, ",*") {
		p.open = true
		list = strings.TrimSuffix(list, ",*")
	}
	props, err := parseProperties(list)
	if err != nil {
		return Pattern{}, err
	}
	for _, pr := range props {
		if pr.Key == "" || pr.Value == "" {
			return Pattern{}, ErrMalformed
		}
	}
	p.props = props
	return p, nil
}

// MustPattern is like ParsePattern but panics on error.
func MustPattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// DomainPattern matches every name in domain.
func DomainPattern(domain string) Pattern { return Pattern{domain: domain, open: true} }

// TypePattern matches "domain:j2eeType=t,*".
func TypePattern(domain, j2eeType string) Pattern {
	return Pattern{domain: domain, props: []Property{P(KeyJ2EEType, j2eeType)}, open: true}
}

func (p Pattern) Matches(n Name) bool {
	if n.IsZero() {
		return false
	}
	if ok, _ := path.Match(p.domain, n.domain); !ok {
		return false
	}
	for _, want := range p.props {
		if v, ok := n.Get(want.Key); !ok || v != want.Value {
			return false
		}
	}
	if !p.open && len(n.props) != len(p.props) {
		return false
	}
	return true
}

func (p Pattern) String() string {
	list := joinProps(p.props)
	if p.open {
		if list == "" {
			list = "*"
		} else {
			list += ",*"
		}
	}
	return p.domain + ":" + list
}
