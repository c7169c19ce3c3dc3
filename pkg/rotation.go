package pkg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type RotationStatus string

const (
	RotationOK              RotationStatus = "ok"
	RotationMismatch        RotationStatus = "mismatch"
	RotationInvalidResponse RotationStatus = "invalid_response"
	RotationFailed          RotationStatus = "rotation_failed"
	RotationObserveFailed   RotationStatus = "observe_failed"
)

// RotationEvent is the record of one verify cycle.
type RotationEvent struct {
	ObservedIP      string
	OldIP           string
	NewIP           string
	DurationSeconds float64
	Status          RotationStatus
	Detail          string
	CheckedAt       time.Time
}

// Err returns the sentinel matching the event status, or nil for RotationOK.
func (e RotationEvent) Err() error {
	switch e.Status {
	case RotationOK:
		return nil
	case RotationMismatch:
		return ErrIPMismatch
	case RotationInvalidResponse:
		return ErrInvalidRotationResponse
	case RotationFailed:
		return ErrRotationFailed
	default:
		return ErrObserveFailed
	}
}

// IPObserver reports the public IP currently seen by some provider.
type IPObserver interface {
	CurrentIP(ctx context.Context) (string, error)
}

// Rotator triggers an egress IP change.
type Rotator interface {
	ChangeIP(ctx context.Context) (RotationResponse, error)
}

// Journal stores rotation events. It is called from the verifier loop only.
type Journal interface {
	Save(ctx context.Context, event RotationEvent) error
}

type NopJournal struct{}

func (NopJournal) Save(context.Context, RotationEvent) error { return nil }

// ProxyIPObserver asks an IP-echo provider for the IP seen through the egress
// proxy.
type ProxyIPObserver struct {
	providerURL string
	client      *http.Client
}

// NewProxyIPObserver routes requests to providerURL through proxyURL, which
// may be socks5://, socks5h:// or http(s)://, with optional credentials.
func NewProxyIPObserver(providerURL, proxyURL string, timeout time.Duration) (*ProxyIPObserver, error) {
	proxy, err := url.Parse(proxyURL)
	if err != nil || proxy.Host == "" {
		return nil, configErr("EGRESS_PROXY_URL", "must be a proxy URL")
	}
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxy),
			DisableKeepAlives: true,
		},
		Timeout: timeout,
	}
	return NewIPObserver(providerURL, client), nil
}

// NewIPObserver uses client as is; tests pass a direct client here.
func NewIPObserver(providerURL string, client *http.Client) *ProxyIPObserver {
	if providerURL == "" {
		panic("pkg.NewIPObserver: providerURL is required")
	}
	if client == nil {
		panic("pkg.NewIPObserver: http client is required")
	}
	return &ProxyIPObserver{providerURL: providerURL, client: client}
}

func (o *ProxyIPObserver) CurrentIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.providerURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s returned %d", o.providerURL, resp.StatusCode)
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", fmt.Errorf("%s returned an empty body", o.providerURL)
	}
	return ip, nil
}

// RotationResponse is the body of a successful change-ip call.
type RotationResponse struct {
	OldIP string
	NewIP string
}

type rotationPayload struct {
	OldIP *string `json:"oldIp"`
	NewIP *string `json:"newIp"`
}

// RotationClient calls GET baseURL/change-ip?uuid=<uuid>.
type RotationClient struct {
	baseURL string
	uuid    string
	client  *http.Client
}

func NewRotationClient(baseURL, uuid string, client *http.Client) *RotationClient {
	if baseURL == "" {
		panic("pkg.NewRotationClient: baseURL is required")
	}
	if client == nil {
		panic("pkg.NewRotationClient: http client is required")
	}
	return &RotationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		uuid:    uuid,
		client:  client,
	}
}

// ChangeIP returns ErrRotationFailed for transport errors and non-200
// statuses, and ErrInvalidRotationResponse when the body lacks oldIp or newIp.
func (c *RotationClient) ChangeIP(ctx context.Context) (RotationResponse, error) {
	reqURL := c.baseURL + "/change-ip?uuid=" + url.QueryEscape(c.uuid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return RotationResponse{}, fmt.Errorf("%w: %v", ErrRotationFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return RotationResponse{}, fmt.Errorf("%w: %v", ErrRotationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RotationResponse{}, fmt.Errorf("%w: read body: %v", ErrRotationFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return RotationResponse{}, fmt.Errorf("%w: status %d: %s", ErrRotationFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload rotationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return RotationResponse{}, fmt.Errorf("%w: %v", ErrInvalidRotationResponse, err)
	}
	if payload.OldIP == nil || payload.NewIP == nil {
		return RotationResponse{}, fmt.Errorf("%w: missing oldIp or newIp in %s", ErrInvalidRotationResponse, strings.TrimSpace(string(body)))
	}
	return RotationResponse{OldIP: *payload.OldIP, NewIP: *payload.NewIP}, nil
}

// RotationVerifier observes the egress IP, rotates it and checks that the
// API reports the transition from the IP it observed.
type RotationVerifier struct {
	observer IPObserver
	rotator  Rotator
	journal  Journal
	metrics  *RotationMetrics
	logger   log.Logger
	now      func() time.Time
}

func NewRotationVerifier(observer IPObserver, rotator Rotator, journal Journal, metrics *RotationMetrics, logger log.Logger) *RotationVerifier {
	if observer == nil {
		panic("pkg.NewRotationVerifier: observer is required")
	}
	if rotator == nil {
		panic("pkg.NewRotationVerifier: rotator is required")
	}
	if metrics == nil {
		panic("pkg.NewRotationVerifier: metrics is required")
	}
	if logger == nil {
		panic("pkg.NewRotationVerifier: logger is required")
	}
	if journal == nil {
		journal = NopJournal{}
	}
	return &RotationVerifier{
		observer: observer,
		rotator:  rotator,
		journal:  journal,
		metrics:  metrics,
		logger:   log.With(logger, "component", "rotation_verifier"),
		now:      time.Now,
	}
}

// Run verifies once per interval until ctx is done.
func (v *RotationVerifier) Run(ctx context.Context, interval time.Duration) error {
	return RunEvery(ctx, interval, func(ctx context.Context) {
		v.VerifyOnce(ctx)
	})
}

// VerifyOnce runs a single observe, rotate, verify cycle. Failures are logged,
// counted and journaled; nothing is retried.
func (v *RotationVerifier) VerifyOnce(ctx context.Context) RotationEvent {
	event := v.verify(ctx)
	event.CheckedAt = v.now().UTC()

	v.metrics.Checks.WithLabelValues(string(event.Status)).Inc()
	if err := v.journal.Save(ctx, event); err != nil {
		level.Warn(v.logger).Log("msg", "failed to journal rotation event", "status", event.Status, "err", err)
	}
	return event
}

func (v *RotationVerifier) verify(ctx context.Context) RotationEvent {
	observed, err := v.observer.CurrentIP(ctx)
	if err != nil {
		level.Error(v.logger).Log("msg", "failed to get current IP", "err", err)
		return RotationEvent{Status: RotationObserveFailed, Detail: err.Error()}
	}

	start := v.now()
	resp, err := v.rotator.ChangeIP(ctx)
	elapsed := v.now().Sub(start).Seconds()
	event := RotationEvent{ObservedIP: observed, DurationSeconds: elapsed}
	if err != nil {
		event.Detail = err.Error()
		if errors.Is(err, ErrInvalidRotationResponse) {
			event.Status = RotationInvalidResponse
			level.Error(v.logger).Log("msg", "invalid response from IP change API", "observed_ip", observed, "err", err)
		} else {
			event.Status = RotationFailed
			level.Error(v.logger).Log("msg", "IP change request failed", "observed_ip", observed, "err", err)
		}
		return event
	}

	event.OldIP = resp.OldIP
	event.NewIP = resp.NewIP
	v.metrics.Duration.Observe(elapsed)

	if observed == resp.OldIP && resp.OldIP != resp.NewIP {
		event.Status = RotationOK
		level.Info(v.logger).Log(
			"msg", "IP changed",
			"old_ip", resp.OldIP,
			"new_ip", resp.NewIP,
			"duration_seconds", fmt.Sprintf("%.2f", elapsed),
		)
		return event
	}

	event.Status = RotationMismatch
	event.Detail = fmt.Sprintf("current IP %s, response oldIp=%s newIp=%s", observed, resp.OldIP, resp.NewIP)
	level.Error(v.logger).Log(
		"msg", ErrIPMismatch.Error(),
		"current_ip", observed,
		"old_ip", resp.OldIP,
		"new_ip", resp.NewIP,
	)
	return event
}

// Watcher logs the current egress IP on a short interval. It only observes;
// failures are counted and logged, never propagated.
type Watcher struct {
	observer IPObserver
	metrics  *RotationMetrics
	logger   log.Logger
}

func NewWatcher(observer IPObserver, metrics *RotationMetrics, logger log.Logger) *Watcher {
	if observer == nil {
		panic("pkg.NewWatcher: observer is required")
	}
	if metrics == nil {
		panic("pkg.NewWatcher: metrics is required")
	}
	if logger == nil {
		panic("pkg.NewWatcher: logger is required")
	}
	return &Watcher{
		observer: observer,
		metrics:  metrics,
		logger:   log.With(logger, "component", "watcher"),
	}
}

// Run checks once per interval until ctx is done.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	return RunEvery(ctx, interval, w.Check)
}

func (w *Watcher) Check(ctx context.Context) {
	w.metrics.WatchChecks.Inc()
	ip, err := w.observer.CurrentIP(ctx)
	if err != nil {
		w.metrics.WatchFailures.Inc()
		level.Warn(w.logger).Log("msg", "background check failed to get current IP", "err", err)
		return
	}
	level.Info(w.logger).Log("msg", "background check", "current_ip", ip)
}
