package httputil

import (
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Clients holds the shared HTTP clients. RETS gets a cookie jar for session
// tracking and a long timeout since large GetObject responses are slow;
// geocode calls are small and bounded tightly.
type Clients struct {
	RETS    *http.Client
	Geocode *http.Client
}

func NewClients() *Clients {
	jar, _ := cookiejar.New(nil)

	return &Clients{
		RETS: &http.Client{
			Timeout: 120 * time.Second,
			Jar:     jar,
		},
		Geocode: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}
