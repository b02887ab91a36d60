package h5r

import "net/http"

// defaultFetchConcurrency bounds the parallel chunk fetch fan-out for
// remote byte sources.
const defaultFetchConcurrency = 10

type options struct {
	httpClient       *http.Client
	pageSize         int64
	fetchConcurrency int
}

// Option configures Open, OpenPaged and OpenSplit.
type Option func(*options)

// WithHTTPClient sets the client used for Range requests. Defaults to
// http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithPageSize overrides the metadata page size of a paged file. The
// default comes from the file's File Space Info message, falling back
// to 4096.
func WithPageSize(size int64) Option {
	return func(o *options) { o.pageSize = size }
}

// WithFetchConcurrency bounds the number of in-flight chunk reads for
// remote sources. Defaults to 10; local files always read sequentially.
func WithFetchConcurrency(n int) Option {
	return func(o *options) { o.fetchConcurrency = n }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.fetchConcurrency <= 0 {
		o.fetchConcurrency = defaultFetchConcurrency
	}
	return o
}
