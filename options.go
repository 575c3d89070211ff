package epub

import (
	"io"

	"github.com/sirupsen/logrus"
)

// TOCMode controls how navigation documents that fail schema validation are
// treated.
type TOCMode int

const (
	// BestEffort decodes non-conforming navigation documents permissively and
	// reports the violations as warnings.
	BestEffort TOCMode = iota
	// Strict withholds non-conforming navigation documents and reports the
	// violations as errors.
	Strict
)

func (m TOCMode) String() string {
	if m == Strict {
		return "strict"
	}
	return "best-effort"
}

const (
	// defaultMaxEntrySize is the maximum decompressed size of a single
	// archive entry. It guards against zip bombs.
	defaultMaxEntrySize int64 = 256 * 1024 * 1024

	defaultConcurrency = 8

	// defaultRootfile is assumed when container.xml is unusable.
	defaultRootfile = "OEBPS/content.opf"
)

// Option configures Parse, Open and NewReader.
type Option func(*options)

type options struct {
	logger          logrus.FieldLogger
	maxEntrySize    int64
	concurrency     int
	tocMode         TOCMode
	defaultRootfile string
}

// defaultOptions returns the default parse options.
func defaultOptions() options {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return options{
		logger:          l,
		maxEntrySize:    defaultMaxEntrySize,
		concurrency:     defaultConcurrency,
		tocMode:         BestEffort,
		defaultRootfile: defaultRootfile,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the logger used for debug tracing of document fetches.
// By default nothing is logged.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxEntrySize limits the decompressed size of any single archive entry
// read by Open and NewReader. Values <= 0 are ignored.
func WithMaxEntrySize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntrySize = n
		}
	}
}

// WithConcurrency bounds the number of manifest items fetched in parallel.
// Values <= 0 are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithTOCMode selects how navigation documents with schema violations are
// handled. The default is BestEffort.
func WithTOCMode(m TOCMode) Option {
	return func(o *options) { o.tocMode = m }
}

// WithDefaultRootfile changes the package path assumed when container.xml
// is missing or unparsable.
func WithDefaultRootfile(p string) Option {
	return func(o *options) {
		if p != "" {
			o.defaultRootfile = p
		}
	}
}
