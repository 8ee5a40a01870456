package pipeline

import (
	"net/http"
	"time"
)

const defaultPoolSize = 16

// NewPooledHTTPClient returns the one client every session shares for backend
// calls. It keeps the default transport's proxy and dial settings and only
// widens the idle pool to poolSize per host (default when non-positive).
// timeout bounds a whole request; turn deadlines usually fire first.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = poolSize * 4
	t.MaxIdleConnsPerHost = poolSize
	t.ResponseHeaderTimeout = 30 * time.Second
	return &http.Client{Timeout: timeout, Transport: t}
}
