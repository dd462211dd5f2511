package exposition

import (
	"context"

	"yqhp/load-probe/internal/httpclient"
	"yqhp/load-probe/pkg/types"
)

// Scraper fetches exposition bodies. Every fetch yields a RequestOutcome so
// it can be recorded like any other call.
type Scraper struct {
	client  *httpclient.Client
	headers map[string]string
}

// NewScraper creates a Scraper sending headers with every fetch.
func NewScraper(client *httpclient.Client, headers map[string]string) *Scraper {
	return &Scraper{client: client, headers: headers}
}

// Scrape fetches url. err is non-nil only when ctx was done before anything was
// sent; in that case no outcome should be recorded.
func (s *Scraper) Scrape(ctx context.Context, url string) (string, types.RequestOutcome, error) {
	resp, err := s.client.Get(ctx, httpclient.Request{URL: url, Headers: s.headers})
	if err != nil {
		return "", types.RequestOutcome{}, err
	}

	outcome := types.RequestOutcome{
		Status:    resp.Status,
		Latency:   resp.Latency,
		Class:     "metrics",
		Kind:      types.RequestMetrics,
		Timestamp: resp.Start,
		Err:       resp.Err,
	}
	if resp.Err != nil || resp.Status < 200 || resp.Status >= 300 {
		return "", outcome, nil
	}
	return string(resp.Body), outcome, nil
}

// Gauges reads several named values out of one body. Missing names are absent
// from the result.
func Gauges(body string, names ...string) map[string]float64 {
	out := make(map[string]float64, len(names))
	for _, n := range names {
		if v, ok := Lookup(body, n); ok {
			out[n] = v
		}
	}
	return out
}
