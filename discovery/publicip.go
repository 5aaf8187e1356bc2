package discovery

import (
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// publicIPServices is the fixed, ordered list of spec.md §4.C. The first
// syntactically valid IPv4/IPv6 address wins.
var publicIPServices = []string{
	"https://api.ipify.org",
	"https://checkip.amazonaws.com",
	"https://icanhazip.com",
}

const fallbackIP = "127.0.0.1"

// ResolvePublicIP tries each service in order with perRequestTimeout, and
// falls back to 127.0.0.1 if none succeed. In local-testing mode the
// fallback is used unconditionally without making any network call.
func ResolvePublicIP(localTesting bool, perRequestTimeout time.Duration) string {
	if localTesting {
		return fallbackIP
	}
	for _, svc := range publicIPServices {
		ip, err := fetchIP(svc, perRequestTimeout)
		if err != nil {
			continue
		}
		return ip
	}
	return fallbackIP
}

func fetchIP(url string, timeout time.Duration) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod("GET")

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		return "", err
	}

	candidate := strings.TrimSpace(string(resp.Body()))
	ip := net.ParseIP(candidate)
	if ip == nil {
		return "", errNotAnIP
	}
	return candidate, nil
}

var errNotAnIP = &ipParseError{}

type ipParseError struct{}

func (*ipParseError) Error() string { return "response body is not a syntactically valid IP address" }
