package pkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// maxEchoBody bounds how much of an IP-echo response is read.
const maxEchoBody = 1 << 10

// Prober asks an IP-echo endpoint for the public IP seen from each bind target.
type Prober struct {
	echoURL string
	timeout time.Duration
	metrics *ProbeMetrics
	logger  log.Logger
}

func NewProber(echoURL string, timeout time.Duration, metrics *ProbeMetrics, logger log.Logger) *Prober {
	if echoURL == "" {
		panic("pkg.NewProber: echoURL is required")
	}
	if metrics == nil {
		panic("pkg.NewProber: metrics is required")
	}
	if logger == nil {
		panic("pkg.NewProber: logger is required")
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		echoURL: echoURL,
		timeout: timeout,
		metrics: metrics,
		logger:  log.With(logger, "component", "prober"),
	}
}

// ProbeAll probes every target concurrently and waits for all of them.
// Outcomes come back in target order and have already been recorded.
func (p *Prober) ProbeAll(ctx context.Context, targets []BindTarget) []ProbeOutcome {
	outcomes := make([]ProbeOutcome, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, t BindTarget) {
			defer wg.Done()
			outcomes[i] = p.Probe(ctx, t)
		}(i, target)
	}
	wg.Wait()

	return outcomes
}

// Probe runs a single attempt for one target, records it and logs it.
// Nothing is recorded when ctx was cancelled during the attempt.
func (p *Prober) Probe(ctx context.Context, t BindTarget) ProbeOutcome {
	start := time.Now()
	outcome := p.fetch(ctx, t)
	outcome.Duration = time.Since(start)

	// a probe cut short by shutdown says nothing about the target
	if errors.Is(ctx.Err(), context.Canceled) {
		level.Debug(p.logger).Log("msg", "probe cancelled", "local_ip", t.Address, "server_name", t.Label, "bind", t.Group)
		return outcome
	}
	p.metrics.Record(outcome)

	switch outcome.Kind {
	case ResultSuccess:
		level.Info(p.logger).Log("msg", "retrieved public IP", "local_ip", t.Address, "server_name", t.Label, "bind", t.Group, "public_ip", outcome.IP)
	case ResultTimeout:
		level.Error(p.logger).Log("msg", "timeout while getting public IP", "local_ip", t.Address, "server_name", t.Label, "bind", t.Group)
	default:
		level.Error(p.logger).Log("msg", "failed to get public IP", "local_ip", t.Address, "server_name", t.Label, "bind", t.Group, "err", outcome.Message)
	}
	return outcome
}

func (p *Prober) fetch(ctx context.Context, t BindTarget) ProbeOutcome {
	client, err := p.boundClient(t.Address)
	if err != nil {
		return Other(t, err.Error())
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.echoURL, nil)
	if err != nil {
		return Other(t, err.Error())
	}
	resp, err := client.Do(req)
	if err != nil {
		return classify(t, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return classify(t, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Other(t, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return Success(t, strings.TrimSpace(string(body)))
}

// boundClient builds a single-use client whose connections originate from
// addr. Environment proxies are ignored so the bind address is what the echo
// service sees.
func (p *Prober) boundClient(addr string) (*http.Client, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address %q", addr)
	}
	dialer := &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: ip},
		Timeout:   p.timeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		DisableKeepAlives:   true,
		MaxIdleConnsPerHost: 1,
		TLSHandshakeTimeout: p.timeout,
	}
	return &http.Client{Transport: transport, Timeout: p.timeout}, nil
}

func classify(t BindTarget, err error) ProbeOutcome {
	if isTimeout(err) {
		return Timeout(t)
	}
	return Other(t, err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
