package cachestatus

import "fmt"

// Name identifies this cache in Cache-Status header values.
const Name = "OfflineCache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"
)

const (
	// A navigation was answered with the stored root document because
	// neither the cache nor the network could answer it.
	DetailOfflineFallback = "offline-fallback"

	// Neither the cache nor the network could answer the request.
	DetailUnresolved = "unresolved"
)

// CacheStatus builds a Cache-Status header value (RFC 9211).
type CacheStatus struct {
	status    Status
	detail    string
	fwdReason FwdReason
}

func (cs *CacheStatus) Hit() {
	cs.status = StatusHit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = StatusFwd
	cs.fwdReason = reason
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) Status() Status {
	return cs.status
}

func (cs *CacheStatus) FwdReason() FwdReason {
	return cs.fwdReason
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", Name, cs.status)
	if cs.status == StatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
