package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/docsim/docsim-client/internal/config"
	"github.com/docsim/docsim-client/internal/constants"
)

// CreateTransferClient returns a client tuned for artifact downloads and
// export uploads. It shares the proxy settings of ConfigureHTTPClient but has
// no overall timeout: each transfer bounds itself with its context.
//
// HTTP/2 is attempted unless DISABLE_HTTP2=true, or a proxy is active and
// FORCE_HTTP2 is not set.
func CreateTransferClient(cfg *config.Config) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if cfg != nil {
		baseClient, err = ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{Transport: newTransport()}
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport; leave it alone.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 64
	tr.MaxIdleConnsPerHost = constants.DownloadConcurrency * 2
	tr.MaxConnsPerHost = constants.DownloadConcurrency * 4
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout

	// Artifacts are mostly zip and pdf.
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		disableHTTP2(tr)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0

	return baseClient, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}

// proxyActive trusts the configured mode first and only consults the
// environment for "system" mode or when there is no config.
func proxyActive(cfg *config.Config) bool {
	if cfg != nil {
		switch cfg.ProxyMode {
		case "no-proxy", "":
			return false
		case "system":
		default:
			return true
		}
	}
	return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
}
