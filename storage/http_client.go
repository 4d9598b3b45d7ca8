package storage

import (
	"net/http"
	"time"
)

// sharedHTTPClient is reused by every S3FileStore so concurrent Admit/Route
// calls across a batch share one connection pool instead of each dialing
// its own.
var sharedHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  false,
	},
}
