// Package http sends rendered requests to the SUT and to the driver controller.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	gohttp "net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// NewTransport builds the round tripper for config. With H2C set, requests use
// HTTP/2 over cleartext TCP, for SUTs that only speak h2c.
func NewTransport(config types.HTTPConfig) (gohttp.RoundTripper, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	if config.H2C {
		return &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
		}, nil
	}

	transport := &gohttp.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !config.VerifySSL,
			MinVersion:         tls.VersionTLS12,
		},
	}

	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = gohttp.ProxyURL(proxyURL)
	}

	return transport, nil
}
