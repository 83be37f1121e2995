package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

const methodSeparator = ":"

// RootKey is the key of the document served when a navigation cannot be answered.
var RootKey = Key(http.MethodGet, "/")

// Key returns the cache key for a method and a request URI.
func Key(method, requestURI string) string {
	return strings.ToUpper(method) + methodSeparator + requestURI
}

// GetKey returns the cache key for a request.
// The key depends on the method and the request URI (path and query) only,
// so that requests for the same resource via different hosts share an entry.
func GetKey(r *http.Request) string {
	return Key(r.Method, r.URL.RequestURI())
}

// GetRequestFromKey generates a caching-wise equal request than the request that resulted in the
// provided key.
// It returns an error if the request cannot for some reason be deducted.
func GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	return http.NewRequest(method, uri, nil)
}
