package sandbox

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/warden/observability"
)

// normalizeTarget turns an allowlist entry into host:port pairs. An entry
// without a port admits 443 and 80.
func normalizeTarget(target string) ([]string, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return nil, &net.AddrError{Err: "empty target"}
	}

	if strings.ContainsAny(target, "/ @") {
		return nil, &net.AddrError{Err: "not a host", Addr: target}
	}

	if host, port, err := net.SplitHostPort(target); err == nil {
		if n, err := strconv.Atoi(port); host == "" || err != nil || n <= 0 || n > 65535 {
			return nil, &net.AddrError{Err: "invalid host or port", Addr: target}
		}
		return []string{net.JoinHostPort(host, port)}, nil
	}

	if strings.Contains(target, ":") {
		return nil, &net.AddrError{Err: "not a host", Addr: target}
	}
	return []string{net.JoinHostPort(target, "443"), net.JoinHostPort(target, "80")}, nil
}

var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// EgressProxy is the only route out for units with an egress allowlist. Each
// execution receives a grant token, carried as the proxy username; the proxy
// admits CONNECT tunnels and absolute-form HTTP requests only to the
// host:port pairs of that grant.
type EgressProxy struct {
	grants    map[string]map[string]bool
	mu        sync.RWMutex
	dialer    net.Dialer
	transport *http.Transport
	observer  observability.Observer
}

// NewEgressProxy creates a proxy with no grants.
func NewEgressProxy(observer observability.Observer) *EgressProxy {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &EgressProxy{
		grants:    make(map[string]map[string]bool),
		dialer:    net.Dialer{Timeout: 10 * time.Second},
		transport: &http.Transport{Proxy: nil, ResponseHeaderTimeout: 30 * time.Second},
		observer:  observer,
	}
}

// Grant registers an allowlist and returns its token and revoke function.
func (p *EgressProxy) Grant(allow []string) (string, func()) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	set := make(map[string]bool, len(allow))
	for _, target := range allow {
		set[strings.ToLower(target)] = true
	}

	p.mu.Lock()
	p.grants[token] = set
	p.mu.Unlock()

	return token, func() {
		p.mu.Lock()
		delete(p.grants, token)
		p.mu.Unlock()
	}
}

func (p *EgressProxy) allowed(token, target string) (known bool, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set, known := p.grants[token]
	if !known {
		return false, false
	}
	return true, set[strings.ToLower(target)]
}

func proxyToken(r *http.Request) string {
	auth := r.Header.Get("Proxy-Authorization")
	if auth == "" {
		return ""
	}
	probe := &http.Request{Header: http.Header{"Authorization": {auth}}}
	user, _, ok := probe.BasicAuth()
	if !ok {
		return ""
	}
	return user
}

func (p *EgressProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.Host
	if r.Method != http.MethodConnect {
		if r.URL.Host == "" {
			http.Error(w, "absolute-form request required", http.StatusBadRequest)
			return
		}
		target = r.URL.Host
		if r.URL.Port() == "" {
			port := "80"
			if r.URL.Scheme == "https" {
				port = "443"
			}
			target = net.JoinHostPort(r.URL.Hostname(), port)
		}
	}

	known, ok := p.allowed(proxyToken(r), target)
	if !known {
		w.Header().Set("Proxy-Authenticate", `Basic realm="warden-egress"`)
		http.Error(w, "egress grant required", http.StatusProxyAuthRequired)
		return
	}
	if !ok {
		observability.Emit(r.Context(), p.observer, EventEgressDenied, observability.LevelWarning, "sandbox.EgressProxy",
			map[string]any{"target": target, "method": r.Method})
		http.Error(w, "egress to "+target+" is not allowlisted", http.StatusForbidden)
		return
	}

	if r.Method == http.MethodConnect {
		p.tunnel(w, r, target)
		return
	}
	p.forward(w, r)
}

func (p *EgressProxy) tunnel(w http.ResponseWriter, r *http.Request, target string) {
	upstream, err := p.dialer.DialContext(r.Context(), "tcp", target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, buffered, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		return
	}

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		if buffered != nil && buffered.Reader.Buffered() > 0 {
			io.CopyN(upstream, buffered, int64(buffered.Reader.Buffered()))
		}
		io.Copy(upstream, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()

	<-done
	client.Close()
	upstream.Close()
	<-done
}

func (p *EgressProxy) forward(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// ListenAndServe serves the proxy on addr until ctx is done.
func (p *EgressProxy) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: p, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
