package cache

import (
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// Open returns the provider with the given name, backed by path where applicable.
// Supported providers are "sqlite", "leveldb" and "memory".
func Open(provider, path string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "sqlite", "":
		if path == "memory" {
			path = "file::memory:?cache=shared"
		}
		return NewSQLiteStore(path)
	case "leveldb":
		return NewLevelDBStore(path)
	case "memory":
		return NewMemStore(), nil
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unsupported store provider: " + provider)
	}
}
