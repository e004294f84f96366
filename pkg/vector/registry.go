package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	openers   = map[string]Opener{}
	openersMu sync.RWMutex
)

// Register makes a backend available under name. Backend packages call
// this from init(); importing them for side effects enables the provider.
func Register(name string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[name] = opener
}

// Providers lists the registered backend names.
func Providers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	return providersLocked()
}

// Lookup returns the opener registered under provider.
func Lookup(provider string) (Opener, error) {
	openersMu.RLock()
	defer openersMu.RUnlock()
	opener, ok := openers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnsupportedProvider, provider, providersLocked())
	}
	return opener, nil
}

func providersLocked() []string {
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the provider named by cfg.Provider and returns a Store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg.ApplyDefaults()
	opener, err := Lookup(cfg.Provider)
	if err != nil {
		return nil, err
	}
	sess, err := Connect(ctx, cfg, opener)
	if err != nil {
		return nil, err
	}
	return NewStore(sess, opts...), nil
}
