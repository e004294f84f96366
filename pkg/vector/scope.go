package vector

import (
	"fmt"
	"sort"
	"strings"
)

// Scope identifies the owner of a set of records, e.g. {"user_id": "alice"}.
// Every key must be one of the configured scope keys and every value
// non-empty. All Store operations require a scope.
type Scope map[string]string

// ForUser is shorthand for a user-level scope.
func ForUser(userID string) Scope {
	return Scope{"user_id": userID}
}

func (s Scope) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, ",")
}

// scoper injects and enforces scope values. It is the only place where
// scope handling lives; Store routes every operation through it.
type scoper struct {
	reserved map[string]struct{}
}

func newScoper(keys []string) *scoper {
	reserved := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		reserved[k] = struct{}{}
	}
	return &scoper{reserved: reserved}
}

func (sc *scoper) isReserved(key string) bool {
	_, ok := sc.reserved[key]
	return ok
}

func (sc *scoper) validate(scope Scope) error {
	if len(scope) == 0 {
		return ErrMissingScope
	}
	for k, v := range scope {
		if !sc.isReserved(k) {
			return fmt.Errorf("%w: %q is not a scope key", ErrInvalidArgument, k)
		}
		if v == "" {
			return fmt.Errorf("%w: %s is empty", ErrMissingScope, k)
		}
	}
	return nil
}

// filter ANDs the scope into a user filter. A user predicate on a scope
// key must agree with the scope; predicates on reserved keys the scope
// does not set only narrow the result further.
func (sc *scoper) filter(scope Scope, user Filter) (Filter, error) {
	if err := sc.validate(scope); err != nil {
		return nil, err
	}
	out := make(Filter, len(user)+len(scope))
	for k, v := range user {
		if err := ValidateScalar(v); err != nil {
			return nil, fmt.Errorf("filter %q: %w", k, err)
		}
		if want, ok := scope[k]; ok && !ScalarEqual(v, want) {
			return nil, fmt.Errorf("%w: %s=%v outside scope %s", ErrScopeViolation, k, v, scope)
		}
		out[k] = v
	}
	for k, v := range scope {
		out[k] = v
	}
	return out, nil
}

// payload returns a copy of p with the scope values written over it.
func (sc *scoper) payload(scope Scope, p Payload) (Payload, error) {
	if err := sc.validate(scope); err != nil {
		return nil, err
	}
	out := make(Payload, len(p)+len(scope))
	for k, v := range p {
		if err := ValidateScalar(v); err != nil {
			return nil, fmt.Errorf("payload %q: %w", k, err)
		}
		out[k] = v
	}
	for k, v := range scope {
		out[k] = v
	}
	return out, nil
}

// owns reports whether a stored payload belongs to scope.
func (sc *scoper) owns(scope Scope, p Payload) bool {
	for k, v := range scope {
		got, ok := p[k]
		if !ok || !ScalarEqual(got, v) {
			return false
		}
	}
	return true
}
