// Package objectname implements the hierarchical identifiers of managed
// objects: a domain plus an ordered list of key properties, written as
// "domain:key1=value1,key2=value2".
package objectname

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	KeyJ2EEType = "j2eeType"
	KeyName     = "name"

	// NullValue stands in for an ancestor that does not exist, e.g. the
	// J2EEApplication of a standalone module. It must be read as "absent".
	NullValue = "null"
)

var (
	ErrEmptyDomain      = errors.New("objectname: empty domain")
	ErrEmptyName        = errors.New("objectname: empty name")
	ErrEmptyType        = errors.New("objectname: empty j2eeType")
	ErrNoProperties     = errors.New("objectname: no key properties")
	ErrEmptyKey         = errors.New("objectname: empty property key")
	ErrEmptyValue       = errors.New("objectname: empty property value")
	ErrDuplicateKey     = errors.New("objectname: duplicate property key")
	ErrInvalidCharacter = errors.New("objectname: invalid character")
	ErrMalformed        = errors.New("objectname: malformed name")
)

const reserved = ":,=*?"

// Property is a single key=value dimension of a Name.
type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// P is shorthand for Property{Key: k, Value: v}.
func P(k, v string) Property { return Property{Key: k, Value: v} }

// Name is an immutable object name. The zero value means "no name".
type Name struct {
	domain string
	props  []Property
}

// New validates and builds a Name. Invalid input is rejected immediately.
func New(domain string, props ...Property) (Name, error) {
	if strings.TrimSpace(domain) == "" {
		return Name{}, ErrEmptyDomain
	}
	if strings.ContainsAny(domain, ":,=") {
		return Name{}, fmt.Errorf("%w in domain %q", ErrInvalidCharacter, domain)
	}
	if len(props) == 0 {
		return Name{}, ErrNoProperties
	}
	seen := make(map[string]struct{}, len(props))
	out := make([]Property, 0, len(props))
	for _, p := range props {
		if err := validateProperty(p); err != nil {
			return Name{}, err
		}
		if _, dup := seen[p.Key]; dup {
			return Name{}, fmt.Errorf("%w %q", ErrDuplicateKey, p.Key)
		}
		seen[p.Key] = struct{}{}
		out = append(out, p)
	}
	return Name{domain: domain, props: out}, nil
}

// NewJ2EE builds the name of a J2EE managed object: j2eeType and name first,
// followed by the ancestor dimensions in the given order.
func NewJ2EE(domain, j2eeType, name string, ancestors ...Property) (Name, error) {
	if j2eeType == "" {
		return Name{}, ErrEmptyType
	}
	if name == "" {
		return Name{}, ErrEmptyName
	}
	props := make([]Property, 0, len(ancestors)+2)
	props = append(props, P(KeyJ2EEType, j2eeType), P(KeyName, name))
	props = append(props, ancestors...)
	return New(domain, props...)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Name {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Parse reads the text form "domain:k=v,k=v".
func Parse(s string) (Name, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return Name{}, fmt.Errorf("%w: missing ':' in %q", ErrMalformed, s)
	}
	props, err := parseProperties(s[i+1:])
	if err != nil {
		return Name{}, err
	}
	return New(s[:i], props...)
}

func parseProperties(list string) ([]Property, error) {
	if list == "" {
		return nil, ErrNoProperties
	}
	parts := strings.Split(list, ",")
	props := make([]Property, 0, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: property %q has no '='", ErrMalformed, part)
		}
		props = append(props, Property{Key: k, Value: v})
	}
	return props, nil
}

func validateProperty(p Property) error {
	if p.Key == "" {
		return ErrEmptyKey
	}
	if p.Value == "" {
		return fmt.Errorf("%w for key %q", ErrEmptyValue, p.Key)
	}
	if strings.ContainsAny(p.Key, reserved) {
		return fmt.Errorf("%w in key %q", ErrInvalidCharacter, p.Key)
	}
	if strings.ContainsAny(p.Value, reserved) {
		return fmt.Errorf("%w in value %q", ErrInvalidCharacter, p.Value)
	}
	return nil
}

func (n Name) IsZero() bool { return n.domain == "" && len(n.props) == 0 }

func (n Name) Domain() string { return n.domain }

// Get returns the raw value of key, including the NullValue sentinel.
func (n Name) Get(key string) (string, bool) {
	for _, p := range n.props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Ancestor is like Get but reports the NullValue sentinel as absent.
func (n Name) Ancestor(key string) (string, bool) {
	v, ok := n.Get(key)
	if !ok || IsNull(v) {
		return "", false
	}
	return v, true
}

// Type returns the j2eeType dimension.
func (n Name) Type() string {
	v, _ := n.Get(KeyJ2EEType)
	return v
}

// NameValue returns the name dimension.
func (n Name) NameValue() string {
	v, _ := n.Get(KeyName)
	return v
}

// Properties returns a copy of the properties in insertion order.
func (n Name) Properties() []Property {
	return append([]Property(nil), n.props...)
}

// With returns a copy of n with key set to value (replaced in place when
// the key exists, appended otherwise).
func (n Name) With(key, value string) (Name, error) {
	props := n.Properties()
	replaced := false
	for i := range props {
		if props[i].Key == key {
			props[i].Value = value
			replaced = true
		}
	}
	if !replaced {
		props = append(props, Property{Key: key, Value: value})
	}
	return New(n.domain, props...)
}

// String renders the display form with properties in insertion order.
func (n Name) String() string {
	if n.IsZero() {
		return ""
	}
	return n.domain + ":" + joinProps(n.props)
}

// Canonical renders the lookup form with properties sorted by key. Two
// names are Equal exactly when their canonical forms are identical.
func (n Name) Canonical() string {
	if n.IsZero() {
		return ""
	}
	props := n.Properties()
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })
	return n.domain + ":" + joinProps(props)
}

// Equal reports whether both names have the same domain and key/value set.
func (n Name) Equal(o Name) bool {
	if n.domain != o.domain || len(n.props) != len(o.props) {
		return false
	}
	for _, p := range n.props {
		if v, ok := o.Get(p.Key); !ok || v != p.Value {
			return false
		}
	}
	return true
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*n = Name{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// IsNull reports whether v is the absent-ancestor sentinel.
func IsNull(v string) bool { return v == NullValue }

func joinProps(props []Property) string {
	var b strings.Builder
	for i, p := range props {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}
