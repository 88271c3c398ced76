// Package rewrite replaces command identifiers in SQL text with the function
// names a mapping table gives for a target database.
//
// Rewriting is lexical. Each command in table order gets exactly one
// left-to-right pass that replaces every non-overlapping, case-sensitive
// occurrence of its name; the output of one pass is the input of the next.
// A name that is a substring of a longer identifier is replaced too.
package rewrite

import (
	"math"
	"strings"

	"github.com/ha1tch/qmap/pkg/errors"
	"github.com/ha1tch/qmap/pkg/mapping"
)

// Stats describes what a rewrite did.
type Stats struct {
	Passes       int // commands that had a translation for the database
	Replacements int // occurrences replaced across all passes
}

// Rewrite returns query with every command in table replaced by its
// function for database. A nil table is an ErrCodeInvalidArgument error. If
// no command maps to database, including an empty database name, the query is
// returned unchanged; an empty query is returned as is.
func Rewrite(query, database string, table *mapping.Table) (string, error) {
	out, _, err := rewrite(query, database, table, 0)
	return out, err
}

func rewrite(query, database string, table *mapping.Table, maxBytes int) (string, Stats, error) {
	var stats Stats

	if table == nil {
		return "", stats, errors.InvalidArgument("table", "must not be nil").WithOp("rewrite.Rewrite").Err()
	}

	out := query
	var err error
	table.Range(func(c mapping.Command) bool {
		fn, ok := c.Function(database)
		if !ok {
			return true
		}
		var n int
		out, n, err = replaceAll(out, c.Name, fn, maxBytes)
		if err != nil {
			err = errors.Wrapf(err, errors.GetCode(err), "rewriting %s for %s", c.Name, database).
				WithField("command", c.Name).
				WithField("database", database).
				WithOp("rewrite.Rewrite").
				Err()
			return false
		}
		stats.Passes++
		stats.Replacements += n
		return true
	})
	if err != nil {
		return "", stats, err
	}

	return out, stats, nil
}

// replaceAll performs one rewrite pass: every non-overlapping occurrence of
// pattern in src, scanning left to right, becomes repl. maxBytes > 0 caps the
// length of the result.
func replaceAll(src, pattern, repl string, maxBytes int) (string, int, error) {
	if pattern == "" {
		return src, 0, nil
	}

	count := strings.Count(src, pattern)
	if count == 0 {
		return src, 0, nil
	}

	size, err := outputSize(len(src), count, len(pattern), len(repl))
	if err != nil {
		return "", 0, err
	}
	if maxBytes > 0 && size > maxBytes {
		return "", 0, errors.Newf(errors.ErrCodeResourceExhausted,
			"rewritten query would be %d bytes, limit is %d", size, maxBytes).
			WithField("size", size).
			WithField("limit", maxBytes).
			Err()
	}

	var b strings.Builder
	b.Grow(size)

	rest := src
	for {
		i := strings.Index(rest, pattern)
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		b.WriteString(repl)
		rest = rest[i+len(pattern):]
	}
	b.WriteString(rest)

	return b.String(), count, nil
}

// outputSize is the length of src after count replacements of a pattern of
// patLen bytes by one of replLen bytes.
func outputSize(srcLen, count, patLen, replLen int) (int, error) {
	growth := replLen - patLen
	if growth > 0 && count > (math.MaxInt-srcLen)/growth {
		return 0, errors.Internal("rewritten query size overflows int").
			WithField("count", count).
			WithField("growth", growth).
			Err()
	}
	return srcLen + count*growth, nil
}
