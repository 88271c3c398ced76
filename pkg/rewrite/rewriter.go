package rewrite

import (
	"sync/atomic"

	"github.com/ha1tch/qmap/pkg/errors"
	"github.com/ha1tch/qmap/pkg/log"
	"github.com/ha1tch/qmap/pkg/mapping"
)

// Rewriter rewrites queries against the table it currently holds. The table
// can be replaced with Swap while other goroutines are rewriting; each call
// uses whichever table was published when it started.
type Rewriter struct {
	table    atomic.Pointer[mapping.Table]
	logger   *log.Logger
	maxBytes int
	swaps    atomic.Int64
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithLogger sets the logger for rewrite diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(r *Rewriter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxOutputBytes caps the size of a rewritten query. Zero means no limit.
func WithMaxOutputBytes(n int) Option {
	return func(r *Rewriter) {
		if n >= 0 {
			r.maxBytes = n
		}
	}
}

// New creates a Rewriter holding table, which may be nil until the first Swap.
func New(table *mapping.Table, opts ...Option) *Rewriter {
	r := &Rewriter{logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.table.Store(table)
	return r
}

// Table returns the currently published table.
func (r *Rewriter) Table() *mapping.Table {
	return r.table.Load()
}

// Swap publishes table for subsequent rewrites and returns the previous one.
// The tables themselves are never modified.
func (r *Rewriter) Swap(table *mapping.Table) *mapping.Table {
	old := r.table.Swap(table)
	n := r.swaps.Add(1)
	r.logger.Rewrite().Info("mapping table published",
		"commands", table.Len(),
		"generation", n,
	)
	return old
}

// Rewrite rewrites query for database using the current table.
func (r *Rewriter) Rewrite(query, database string) (string, error) {
	table := r.table.Load()
	if table == nil {
		return "", errors.InvalidArgument("table", "no mapping table loaded").WithOp("rewrite.Rewriter").Err()
	}

	out, stats, err := rewrite(query, database, table, r.maxBytes)
	if err != nil {
		r.logger.Rewrite().Error("rewrite failed", err,
			"database", database,
			"command", errors.GetFields(err)["command"],
		)
		return "", err
	}

	r.logger.Rewrite().Debug("query rewritten",
		"database", database,
		"passes", stats.Passes,
		"replacements", stats.Replacements,
	)
	if stats.Passes == 0 {
		r.logger.Rewrite().Debug("no command maps to database", "database", database)
	}
	return out, nil
}
