package httputil

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"catalog_etl/config"
)

const userAgent = "catalog_etl/1.0"

type Clients struct {
	Source *http.Client // product API, optionally proxied
	Alert  *http.Client // webhooks
}

func NewClients(src *config.SourceConfig) (*Clients, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if src.ProxyURL != "" {
		proxyURL, err := url.Parse(src.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Clients{
		Source: &http.Client{
			Timeout:   src.Timeout,
			Transport: &uaTransport{base: transport},
		},
		Alert: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type uaTransport struct {
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(req)
}
