package telegram

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ClientConfig carries the platform credentials a driver needs to open
// connections.
type ClientConfig struct {
	APIID    int
	APIHash  string
	BotToken string
}

// Driver opens concrete platform connections. Implementations live outside
// this module and register themselves from an init function, the same way
// database/sql drivers do; the core stays free of any wire-protocol
// dependency.
type Driver interface {
	// OpenBot connects the bot account and returns its delivery surface
	// together with the inbound update stream. The stream is closed when
	// the connection shuts down.
	OpenBot(ctx context.Context, cfg ClientConfig) (Bot, <-chan Update, error)

	// OpenConnector returns the factory for user and login connections.
	OpenConnector(ctx context.Context, cfg ClientConfig) (Connector, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a driver available under the given name. It panics
// when called twice with the same name or with a nil driver.
func RegisterDriver(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("telegram: RegisterDriver driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("telegram: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// OpenDriver returns the registered driver by name. When name is empty and
// exactly one driver is registered, that driver is returned.
func OpenDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	if name == "" {
		if len(drivers) == 1 {
			for _, d := range drivers {
				return d, nil
			}
		}
		if len(drivers) == 0 {
			return nil, fmt.Errorf("telegram: no driver registered (import a platform driver package)")
		}
		return nil, fmt.Errorf("telegram: %d drivers registered, a name is required (available: %v)", len(drivers), DriverNames())
	}

	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("telegram: unknown driver %q (available: %v)", name, DriverNames())
	}
	return d, nil
}

// DriverNames returns the sorted names of the registered drivers.
func DriverNames() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
