package httputil

import (
	"net/http"
	"net/url"
	"time"

	"price_tracker/config"
)

// apiTimeout must outlast the bot's 60s long poll.
const apiTimeout = 90 * time.Second

type Clients struct {
	API *http.Client // Telegram, S3
}

func NewClients(proxyCfg config.ProxyConfig) (*Clients, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyCfg.URL != "" {
		proxyURL, err := url.Parse(proxyCfg.URL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Clients{
		API: &http.Client{Timeout: apiTimeout, Transport: transport},
	}, nil
}
