package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client limiter table. The least recently
// seen client is forgotten first.
const maxTrackedClients = 4096

// clientLimiter keeps one token bucket per client address. A nil
// *clientLimiter allows everything.
type clientLimiter struct {
	rps      rate.Limit
	burst    int
	visitors *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(rps float64, burst int) (*clientLimiter, error) {
	if rps <= 0 {
		return nil, nil
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	visitors, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		return nil, fmt.Errorf("server: create rate limiter: %w", err)
	}
	return &clientLimiter{rps: rate.Limit(rps), burst: burst, visitors: visitors}, nil
}

// Allow reports whether a request from ip may proceed.
func (l *clientLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	limiter, ok := l.visitors.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		// Another request from the same client may have raced us here.
		if prev, found, _ := l.visitors.PeekOrAdd(ip, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// clientIP returns the remote address without its port.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
