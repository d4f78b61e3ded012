package client

import (
	"fmt"
	"net/http"
	"time"

	"streamgate/work/config"
	"streamgate/work/logger"
	"streamgate/work/relay"
)

// HeaderSettingClient wraps a pair of http.Clients, one with direct egress
// and one dialing through the SOCKS5 relay, and injects the headers upstream
// hosts expect before letting a request through. Callers pick the egress per
// request; the relay client exists only when a relay is configured.
type HeaderSettingClient struct {
	direct *http.Client
	relay  *http.Client
	config *config.Config
}

// checkRedirect caps redirect chains at 5 hops. Hostile origins use redirect
// loops as a soft block.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("too many redirects")
	}
	return nil
}

// NewHeaderSettingClient builds the client pair from configuration. When the
// relay endpoint is unreachable at construction time the relay client is left
// nil and relayed requests degrade to direct egress with a warning.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	direct := &http.Client{
		Timeout:       0, // per-request timeouts come from the request context
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	hsc := &HeaderSettingClient{
		direct: direct,
		config: cfg,
	}

	if addr := cfg.RelayAddr(); addr != "" {
		transport, err := relay.NewTransport(addr)
		if err != nil {
			logger.Warn("{client - NewHeaderSettingClient} Failed to build relay transport for %s: %v", addr, err)
		} else {
			hsc.relay = &http.Client{
				Timeout:       0,
				CheckRedirect: checkRedirect,
				Transport:     transport,
			}
			logger.Info("{client - NewHeaderSettingClient} Relay egress available via %s", addr)
		}
	}

	return hsc
}

// HasRelay reports whether a relay egress is actually available.
func (hsc *HeaderSettingClient) HasRelay() bool {
	return hsc.relay != nil
}

// Do executes the request with default headers over direct egress.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req, "", "")
	return hsc.direct.Do(req)
}

// DoWithHeaders executes the request over direct egress with an explicit
// Origin and Referer pair, as provider strategies need when an upstream
// validates the embedding page.
func (hsc *HeaderSettingClient) DoWithHeaders(req *http.Request, origin, referer string) (*http.Response, error) {
	hsc.setHeaders(req, origin, referer)
	return hsc.direct.Do(req)
}

// DoVia executes the request over the requested egress. Asking for the relay
// when none is configured falls back to direct; the target may still answer,
// and a degraded attempt beats no attempt.
func (hsc *HeaderSettingClient) DoVia(req *http.Request, relayed bool, origin, referer string) (*http.Response, error) {
	hsc.setHeaders(req, origin, referer)

	if relayed {
		if hsc.relay != nil {
			return hsc.relay.Do(req)
		}
		logger.Warn("{client - DoVia} Relay requested but not configured, using direct egress for %s", req.URL.Hostname())
	}
	return hsc.direct.Do(req)
}

// setHeaders injects the standing header set, leaving any header the caller
// already placed on the request untouched.
func (hsc *HeaderSettingClient) setHeaders(req *http.Request, origin, referer string) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Connection", "keep-alive")

	if origin != "" && req.Header.Get("Origin") == "" {
		req.Header.Set("Origin", origin)
	}
	if referer != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", referer)
	}
}
