// Package probe composes the mix samplers, the HTTP client and the exposition
// scraper into one load iteration against an overload-controlled service, and
// turns what it observes into outcomes and probe events on the aggregator.
package probe

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ohler55/ojg/jp"
	"go.uber.org/zap"

	"yqhp/load-probe/internal/exposition"
	"yqhp/load-probe/internal/httpclient"
	"yqhp/load-probe/internal/metrics/engine"
	"yqhp/load-probe/internal/mix"
	"yqhp/load-probe/pkg/types"
)

// Orchestrator runs probe iterations. It is shared by every VU of a run; the
// only mutable state is the run-global iteration index.
type Orchestrator struct {
	cfg     Config
	baseURL string
	query   map[string]string
	headers map[string]string

	client  *httpclient.Client
	scraper *exposition.Scraper
	agg     *engine.Aggregator
	log     *zap.Logger

	cheap *mix.Sampler[Endpoint]
	heavy *mix.Sampler[Endpoint]

	overloadPath jp.Expr
	shed         map[int]bool

	index atomic.Int64
}

// Options wires an Orchestrator.
type Options struct {
	Config     Config
	Target     Target
	Dataset    Dataset
	Client     *httpclient.Client
	Aggregator *engine.Aggregator
	Logger     *zap.Logger
}

// New validates opts and builds the samplers.
func New(opts Options) (*Orchestrator, error) {
	cfg := opts.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("probe: nil http client")
	}
	if opts.Aggregator == nil {
		return nil, fmt.Errorf("probe: nil aggregator")
	}
	if opts.Target.BaseURL == "" {
		return nil, fmt.Errorf("probe: target base_url is required")
	}

	o := &Orchestrator{
		cfg:     cfg,
		baseURL: strings.TrimRight(opts.Target.BaseURL, "/"),
		query:   opts.Dataset.Query(),
		headers: map[string]string{},
		client:  opts.Client,
		agg:     opts.Aggregator,
		log:     opts.Logger,
		shed:    make(map[int]bool, len(cfg.ShedStatuses)),
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if opts.Target.APIKey != "" {
		header := opts.Target.APIKeyHeader
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		o.headers[header] = opts.Target.APIKey
	}
	for _, s := range cfg.ShedStatuses {
		o.shed[s] = true
	}

	var seedOpts []mix.Option
	if cfg.Seed != nil {
		seedOpts = append(seedOpts, mix.WithSeed(*cfg.Seed))
	}
	var err error
	if len(cfg.Cheap) > 0 {
		if o.cheap, err = newEndpointSampler(cfg.Cheap, seedOpts); err != nil {
			return nil, fmt.Errorf("probe: cheap mix: %w", err)
		}
	}
	if len(cfg.Heavy) > 0 {
		// offset the seed so the two mixes do not draw in lockstep
		heavyOpts := seedOpts
		if cfg.Seed != nil {
			heavyOpts = []mix.Option{mix.WithSeed(*cfg.Seed + 1)}
		}
		if o.heavy, err = newEndpointSampler(cfg.Heavy, heavyOpts); err != nil {
			return nil, fmt.Errorf("probe: heavy mix: %w", err)
		}
	}

	if o.overloadPath, err = jp.ParseString(cfg.Health.OverloadField); err != nil {
		return nil, fmt.Errorf("probe: overload_field %q: %w", cfg.Health.OverloadField, err)
	}

	o.scraper = exposition.NewScraper(o.client, o.headers)
	return o, nil
}

func newEndpointSampler(eps []Endpoint, opts []mix.Option) (*mix.Sampler[Endpoint], error) {
	entries := make([]mix.Weighted[Endpoint], len(eps))
	for i, ep := range eps {
		entries[i] = mix.Weighted[Endpoint]{Item: ep, Weight: ep.Weight}
	}
	return mix.New(entries, opts...)
}

// Iterate runs one probe iteration. It matches execution.IterationFunc. Calls
// are issued sequentially: cheap, heavy, then health and scrape when due.
func (o *Orchestrator) Iterate(ctx context.Context, vuID int, iteration int64) error {
	index := o.index.Add(1) - 1

	if o.cheap != nil {
		ep := o.cheap.Next()
		if _, ok := o.call(ctx, ep, types.RequestCheap); !ok {
			return ctx.Err()
		}
	}

	if o.heavy != nil {
		ep := o.heavy.Next()
		out, ok := o.call(ctx, ep, types.RequestHeavy)
		if !ok {
			return ctx.Err()
		}
		if out.Err == nil && o.shed[out.Status] {
			o.agg.Add(string(types.EventHeavyShed), 1)
		}
	}

	if o.cfg.Health.Due(index) {
		if !o.checkHealth(ctx) {
			return ctx.Err()
		}
	}

	if o.cfg.Metrics.Due(index) {
		if !o.scrape(ctx) {
			return ctx.Err()
		}
	}
	return nil
}

// Issued returns how many iterations have started.
func (o *Orchestrator) Issued() int64 {
	return o.index.Load()
}

// call issues one GET and records it. ok is false when ctx ended before the
// call was sent; nothing is recorded then.
func (o *Orchestrator) call(ctx context.Context, ep Endpoint, kind types.RequestKind) (types.RequestOutcome, bool) {
	resp, err := o.client.Get(ctx, httpclient.Request{
		URL:     o.baseURL + ep.Path,
		Query:   o.queryFor(ep),
		Headers: o.headers,
	})
	if err != nil {
		return types.RequestOutcome{}, false
	}

	out := types.RequestOutcome{
		Status:    resp.Status,
		Latency:   resp.Latency,
		Class:     ep.Name,
		Kind:      kind,
		Timestamp: resp.Start,
		Err:       resp.Err,
	}
	o.record(out)
	return out, true
}

func (o *Orchestrator) queryFor(ep Endpoint) map[string]string {
	if len(ep.Query) == 0 {
		return o.query
	}
	q := make(map[string]string, len(o.query)+len(ep.Query))
	for k, v := range o.query {
		q[k] = v
	}
	for k, v := range ep.Query {
		q[k] = v
	}
	return q
}

// checkHealth calls the health endpoint and records overload_active when the
// server answers 503 or reports overloaded in its JSON body.
func (o *Orchestrator) checkHealth(ctx context.Context) bool {
	resp, err := o.client.Get(ctx, httpclient.Request{
		URL:     o.baseURL + o.cfg.Health.Path,
		Headers: o.headers,
	})
	if err != nil {
		return false
	}

	out := types.RequestOutcome{
		Status:    resp.Status,
		Latency:   resp.Latency,
		Class:     "health",
		Kind:      types.RequestHealth,
		Timestamp: resp.Start,
		Err:       resp.Err,
	}
	o.record(out)

	if resp.Err != nil {
		return true
	}
	if resp.Status == 503 || Overloaded(resp.Body, o.overloadPath) {
		o.agg.Add(string(types.EventOverloadActive), 1)
	}
	return true
}

// scrape fetches the exposition body and records the gauge driven events.
func (o *Orchestrator) scrape(ctx context.Context) bool {
	body, out, err := o.scraper.Scrape(ctx, o.baseURL+o.cfg.Metrics.Path)
	if err != nil {
		return false
	}
	o.record(out)
	if body == "" {
		return true
	}

	m := o.cfg.Metrics
	if m.QueueDepthMetric != "" {
		if v, ok := exposition.Lookup(body, m.QueueDepthMetric); ok {
			o.agg.Set(m.QueueDepthMetric, v)
			if v > m.QueueDepthCap {
				o.agg.Add(string(types.EventQueueDepthPositive), 1)
			}
		}
	}
	if m.RSSMetric != "" {
		if v, ok := exposition.Lookup(body, m.RSSMetric); ok {
			o.agg.Set(m.RSSMetric, v)
			if m.RSSCapBytes > 0 && v > m.RSSCapBytes {
				o.agg.Add(string(types.EventRSSCapExceeded), 1)
			}
		}
	}
	if m.CacheHitMetric != "" && m.CacheMissMetric != "" {
		if v, ok := exposition.Ratio(body, m.CacheHitMetric, m.CacheMissMetric); ok {
			o.agg.Set(engine.CacheHitRatio, v)
		}
	}
	return true
}

func (o *Orchestrator) record(out types.RequestOutcome) {
	class := o.Classify(out)
	o.agg.Record(out, o.acceptFor(out.Kind))
	o.agg.AddTagged(engine.ProbeOutcomes, map[string]string{
		engine.TagOutcome: string(class),
		engine.TagKind:    string(out.Kind),
	}, 1)
	if class == types.OutcomeFail {
		o.log.Debug("request failed",
			zap.String("kind", string(out.Kind)),
			zap.String("class", out.Class),
			zap.Int("status", out.Status),
			zap.Error(out.Err))
	}
}

// acceptFor returns the success predicate for a request kind. Shedding on the
// heavy path is an acceptable outcome.
func (o *Orchestrator) acceptFor(kind types.RequestKind) engine.StatusPredicate {
	if kind != types.RequestHeavy {
		return nil
	}
	return func(status int) bool {
		return engine.DefaultAccept(status) || o.shed[status]
	}
}

// Classify maps an outcome to pass, shed or fail.
func (o *Orchestrator) Classify(out types.RequestOutcome) types.OutcomeClass {
	return Classify(out, o.shed)
}

// Classify maps an outcome to pass (2xx), shed (a shed status on the heavy
// path) or fail.
func Classify(out types.RequestOutcome, shed map[int]bool) types.OutcomeClass {
	switch {
	case out.Err != nil:
		return types.OutcomeFail
	case out.Status >= 200 && out.Status < 300:
		return types.OutcomePass
	case out.Kind == types.RequestHeavy && shed[out.Status]:
		return types.OutcomeShed
	default:
		return types.OutcomeFail
	}
}
