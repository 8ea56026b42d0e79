package httputil

import (
	"net/http"
	"time"
)

// Clients bundles the shared HTTP clients: one tuned for page fetches,
// one with a longer timeout for media downloads.
type Clients struct {
	Page  *http.Client
	Media *http.Client
}

func NewClients(pageTimeout time.Duration) *Clients {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        30,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Clients{
		Page: &http.Client{
			Timeout:   pageTimeout,
			Transport: transport,
		},
		Media: &http.Client{
			Timeout:   60 * time.Second, // longer for media downloads
			Transport: transport,
		},
	}
}
