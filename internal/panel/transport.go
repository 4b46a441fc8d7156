package panel

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// NewHTTPClient builds the client shared by the panel API and the Telegram
// bot. proxyURL may be empty, an http(s) proxy, or a socks5/socks5h proxy.
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("outbound proxy: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			tr.Proxy = http.ProxyURL(u)
		default:
			d, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("outbound proxy: %w", err)
			}
			cd, ok := d.(proxy.ContextDialer)
			if !ok {
				return nil, fmt.Errorf("outbound proxy: %s dialer does not support contexts", u.Scheme)
			}
			tr.Proxy = nil
			tr.DialContext = cd.DialContext
		}
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}
