// factory.go maps archive backend names (local, s3) to constructor functions.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tenant-service/tenant-service/internal/config"
)

// FactoryFunc creates a storage backend from the archive configuration
type FactoryFunc func(*config.ArchiveConfig) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStorage creates the backend selected by archive.backend
func NewStorage(cfg *config.ArchiveConfig) (Storage, error) {
	factory, ok := factories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %q (registered: %s)", cfg.Backend, strings.Join(registered(), ", "))
	}
	return factory(cfg)
}

func registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
