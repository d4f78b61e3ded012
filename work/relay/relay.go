package relay

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"streamgate/work/logger"
)

// Policy decides whether an outbound request for a given target should egress
// through the SOCKS5 relay or connect directly. The decision is a pure
// function of the target's hostname against a fixed blocklist of CDN and
// provider domain fragments known to reject direct datacenter-IP traffic.
type Policy struct {
	blocklist []string
}

// NewPolicy builds a Policy from the configured hostname fragments. Fragments
// are matched case-insensitively as substrings of the hostname.
func NewPolicy(fragments []string) *Policy {
	lowered := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			lowered = append(lowered, f)
		}
	}
	return &Policy{blocklist: lowered}
}

// ShouldRelay reports whether the target URL's hostname matches the relay
// blocklist. Malformed URLs return false: the request goes direct and the
// downstream fetch surfaces the real error.
func (p *Policy) ShouldRelay(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	for _, fragment := range p.blocklist {
		if strings.Contains(host, fragment) {
			return true
		}
	}
	return false
}

// NewTransport builds an http.Transport whose connections are dialed through
// the SOCKS5 relay at addr (host:port). The transport mirrors the keep-alive
// and handshake settings of the direct transport so switching egress does not
// change connection behavior.
func NewTransport(addr string) (*http.Transport, error) {
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = ctxDialer.DialContext
	} else {
		logger.Warn("{relay - NewTransport} SOCKS5 dialer does not support contexts, falling back to plain Dial")
		transport.Dial = dialer.Dial
	}

	return transport, nil
}
