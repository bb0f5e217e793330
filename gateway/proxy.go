package main

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/pkg/protocol"
	"github.com/parleyhq/parley/shared/httpclient"
)

// agentProxy forwards /api/v1/* to the stateful agent service's /v1/* and
// streams the response through unchanged, so the browser can talk to the
// agent API without its own CORS exposure.
type agentProxy struct {
	base   string
	client *http.Client
	events eventSink
}

func newAgentProxy(serviceURL string, ev eventSink) *agentProxy {
	return &agentProxy{
		base: strings.TrimRight(serviceURL, "/"),
		// No client timeout: agent responses stream for as long as the
		// request context lives.
		client: httpclient.New(httpclient.WithTimeout(0)),
		events: ev,
	}
}

func (p *agentProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	upstream := p.base + path
	if r.URL.RawQuery != "" {
		upstream += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream, r.Body)
	if err != nil {
		p.fail(w, r, http.StatusBadGateway, err)
		return
	}
	copyProxyHeaders(req.Header, r.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		p.fail(w, r, http.StatusBadGateway, err)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(&flushWriter{w}, resp.Body); err != nil {
		// The response is already underway; only note the broken stream.
		slog.Debug("proxy stream interrupted", "path", r.URL.Path, "error", err)
	}
}

func (p *agentProxy) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	slog.Error("agent proxy failed", "path", r.URL.Path, "error", err)
	p.events.Publish(protocol.NewEnvelope("", protocol.TypeProxyError, protocol.ProxyError{
		Path:   r.URL.Path,
		Status: status,
		Error:  err.Error(),
	}))
	respondError(w, "agent service unreachable", status)
}

// copyProxyHeaders forwards end-to-end headers only.
func copyProxyHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Host", "Connection", "Keep-Alive", "Upgrade", "Proxy-Connection", "Te", "Trailer", "Transfer-Encoding":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// flushWriter pushes each chunk immediately so server-sent token streams
// reach the browser as they arrive.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
