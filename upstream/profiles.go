package upstream

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/net/http2"
)

// Profile names a timeout budget. Call sites pick a profile by intent
// instead of sharing one global timeout.
type Profile string

const (
	ProfileQuick      Profile = "quick"
	ProfileStandard   Profile = "standard"
	ProfileLong       Profile = "long"
	ProfileFileUpload Profile = "file-upload"
)

type profileBudget struct {
	// DialTimeout bounds the connect phase.
	DialTimeout time.Duration

	// HeaderTimeout bounds the wait for response headers.
	HeaderTimeout time.Duration

	// Overall bounds the whole call including body transfer.
	// Zero means no overall deadline (streaming transfers).
	Overall time.Duration
}

var profileBudgets = map[Profile]profileBudget{
	ProfileQuick:      {DialTimeout: 2 * time.Second, HeaderTimeout: 3 * time.Second, Overall: 5 * time.Second},
	ProfileStandard:   {DialTimeout: 5 * time.Second, HeaderTimeout: 10 * time.Second, Overall: 30 * time.Second},
	ProfileLong:       {DialTimeout: 5 * time.Second, HeaderTimeout: 30 * time.Second, Overall: 0},
	ProfileFileUpload: {DialTimeout: 5 * time.Second, HeaderTimeout: 60 * time.Second, Overall: 0},
}

func budgetFor(profile Profile) profileBudget {
	if b, ok := profileBudgets[profile]; ok {
		return b
	}
	return profileBudgets[ProfileStandard]
}

// newTransport builds a pooled transport tuned for one timeout profile.
func newTransport(budget profileBudget, poolSize int) *http.Transport {
	transport := cleanhttp.DefaultPooledTransport()

	transport.DialContext = (&net.Dialer{
		Timeout:   budget.DialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = budget.HeaderTimeout
	transport.IdleConnTimeout = 90 * time.Second
	if poolSize > 0 {
		transport.MaxIdleConns = poolSize * 2
		transport.MaxIdleConnsPerHost = poolSize
	}
	transport.ForceAttemptHTTP2 = true

	// Best effort; falls back to HTTP/1.1 on error.
	http2.ConfigureTransport(transport)

	return transport
}
