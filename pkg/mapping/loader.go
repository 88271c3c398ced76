package mapping

import (
	"io"
	"os"
	"strings"

	"github.com/ha1tch/qmap/pkg/errors"
	"github.com/ha1tch/qmap/pkg/log"
)

// Limits bound the names and pair counts accepted from a mapping source.
type Limits struct {
	MaxNameLen   int // bytes, applies to command, database and function names
	MaxDatabases int // pairs per command
}

// DefaultLimits returns the limits used when none are given.
func DefaultLimits() Limits {
	return Limits{
		MaxNameLen:   31,
		MaxDatabases: 10,
	}
}

// LoadOption configures Load, LoadFile and Parse.
type LoadOption func(*loader)

// WithLogger sets the logger that receives validation skip diagnostics.
func WithLogger(l *log.Logger) LoadOption {
	return func(ld *loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithLimits overrides DefaultLimits. Non-positive fields keep the default.
func WithLimits(limits Limits) LoadOption {
	return func(ld *loader) {
		if limits.MaxNameLen > 0 {
			ld.limits.MaxNameLen = limits.MaxNameLen
		}
		if limits.MaxDatabases > 0 {
			ld.limits.MaxDatabases = limits.MaxDatabases
		}
	}
}

type loader struct {
	limits Limits
	logger *log.Logger
	source string
}

func newLoader(source string, opts []LoadOption) *loader {
	ld := &loader{
		limits: DefaultLimits(),
		source: source,
	}
	for _, opt := range opts {
		opt(ld)
	}
	if ld.logger == nil {
		ld.logger = log.Default()
	}
	return ld
}

// LoadFile reads and parses the mapping file at path. The format follows
// the extension (see FormatForPath).
func LoadFile(path string, opts ...LoadOption) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeConfigRead, "failed to read config file %s", path).
			WithField("path", path).
			WithOp("mapping.LoadFile").
			Err()
	}
	return newLoader(path, opts).parse(data, FormatForPath(path))
}

// Load reads a mapping source from r.
func Load(r io.Reader, format Format, opts ...LoadOption) (*Table, error) {
	if r == nil {
		return nil, errors.InvalidArgument("reader", "must not be nil").WithOp("mapping.Load").Err()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigRead, "failed to read config").
			WithOp("mapping.Load").
			Err()
	}
	return newLoader("", opts).parse(data, format)
}

// Parse builds a table from an in-memory mapping source.
//
// Only source-level problems fail the call: unparseable data
// (ErrCodeConfigParse) or a top-level value that is not an object
// (ErrCodeConfigInvalid). Malformed entries and pairs are skipped and
// reported as warnings on the config log category.
func Parse(data []byte, format Format, opts ...LoadOption) (*Table, error) {
	return newLoader("", opts).parse(data, format)
}

func (ld *loader) parse(data []byte, format Format) (*Table, error) {
	root, err := decode(data, format)
	if err != nil {
		var b *errors.Builder
		if top, ok := err.(invalidTopLevel); ok {
			b = errors.New(errors.ErrCodeConfigInvalid, top.Error())
		} else {
			b = errors.Wrapf(err, errors.ErrCodeConfigParse, "failed to parse %s config", format)
		}
		if ld.source != "" {
			b = b.WithField("path", ld.source)
		}
		return nil, b.WithOp("mapping.Parse").Err()
	}

	t := ld.build(root.members)

	ld.logger.Config().Info("mapping table loaded",
		"source", ld.sourceName(),
		"format", format.String(),
		"entries", len(root.members),
		"commands", t.Len(),
	)
	return t, nil
}

func (ld *loader) sourceName() string {
	if ld.source == "" {
		return "<memory>"
	}
	return ld.source
}

// build applies the per-entry validation policy. Entries are skipped, never
// truncated: a command with too many pairs is dropped whole, and a command
// whose pairs all fail validation is dropped too.
func (ld *loader) build(entries []member) *Table {
	t := &Table{index: make(map[string]int, len(entries))}

	for _, entry := range entries {
		name := entry.key

		if !entry.keyIsStr || entry.value.kind != kindObject {
			ld.skip(name, "", "entry is not an object of database functions")
			continue
		}
		if name == "" {
			ld.skip(name, "", "empty command name")
			continue
		}
		if len(name) > ld.limits.MaxNameLen {
			ld.skip(name, "", "command name too long")
			continue
		}

		pairs := entry.value.members
		if len(pairs) == 0 {
			ld.skip(name, "", "no database functions defined for command")
			continue
		}
		if len(pairs) > ld.limits.MaxDatabases {
			ld.skip(name, "", "too many database functions defined for command")
			continue
		}

		cmd := Command{Name: name}
		for _, pair := range pairs {
			if tr, ok := ld.translation(name, pair, cmd.Translations); ok {
				cmd.Translations = append(cmd.Translations, tr)
			}
		}

		if len(cmd.Translations) == 0 {
			ld.skip(name, "", "no valid database functions for command")
			continue
		}

		if i, dup := t.index[name]; dup {
			ld.logger.Config().Warn("duplicate command replaces earlier definition",
				"command", name,
				"source", ld.sourceName(),
			)
			t.commands[i] = cmd
			continue
		}
		t.append(cmd)
	}

	return t
}

func (ld *loader) translation(command string, pair member, seen []Translation) (Translation, bool) {
	db := pair.key

	switch {
	case !pair.keyIsStr:
		ld.skip(command, db, "database name is not a string")
	case pair.value.kind != kindString:
		ld.skip(command, db, "function name is not a string")
	case db == "":
		ld.skip(command, db, "empty database name")
	case len(db) > ld.limits.MaxNameLen:
		ld.skip(command, db, "database name too long")
	case pair.value.str == "":
		ld.skip(command, db, "empty function name")
	case len(pair.value.str) > ld.limits.MaxNameLen:
		ld.skip(command, db, "function name too long")
	default:
		for _, prev := range seen {
			if strings.EqualFold(prev.Database, db) {
				ld.skip(command, db, "database already mapped for command")
				return Translation{}, false
			}
		}
		return Translation{Database: db, Function: pair.value.str}, true
	}
	return Translation{}, false
}

func (ld *loader) skip(command, database, reason string) {
	fields := []interface{}{
		"code", errors.ErrCodeConfigValidation.String(),
		"command", command,
	}
	if database != "" {
		fields = append(fields, "database", database)
	}
	fields = append(fields, "reason", reason, "source", ld.sourceName())
	ld.logger.Config().Warn("skipping invalid mapping entry", fields...)
}
