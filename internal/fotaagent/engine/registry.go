// Package engine keeps the set of patch engines the agent can drive.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
)

var (
	mu      sync.RWMutex
	engines = make(map[string]core.Engine)
)

// Register makes an engine available by its name. Registering a name twice
// replaces the earlier engine.
func Register(e core.Engine) {
	mu.Lock()
	defer mu.Unlock()
	engines[e.Name()] = e
}

func Get(name string) (core.Engine, error) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q (registered: %v): %w", name, namesLocked(), core.ErrNotFound)
	}
	return e, nil
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	out := make([]string, 0, len(engines))
	for n := range engines {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(NewScout())
}
