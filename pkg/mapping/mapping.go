// Package mapping holds the command mapping table used by the query rewriter.
//
// A table maps vendor-neutral command identifiers (CMD_SUBSTRING) to the
// function name each database engine uses for it (substr, substring, ...).
// Tables are built once, by LoadFile/Load/Parse or NewTable, and are
// read-only afterwards, so a single *Table may be shared between goroutines.
package mapping

import (
	"strings"

	"github.com/ha1tch/qmap/pkg/errors"
)

// Translation is the function name one database uses for a command.
type Translation struct {
	Database string
	Function string
}

// Command is one command identifier and its per-database translations.
type Command struct {
	Name         string
	Translations []Translation
}

// Function returns the function name mapped for database, compared
// case-insensitively. Pairs with an empty database or function never match.
func (c Command) Function(database string) (string, bool) {
	for _, tr := range c.Translations {
		if tr.Database == "" || tr.Function == "" {
			continue
		}
		if strings.EqualFold(tr.Database, database) {
			return tr.Function, true
		}
	}
	return "", false
}

func (c Command) clone() Command {
	out := Command{Name: c.Name}
	out.Translations = append([]Translation(nil), c.Translations...)
	return out
}

// Table is an ordered set of commands. Order is load order; the rewriter
// applies commands in this order. The zero value is an empty table.
type Table struct {
	commands []Command
	index    map[string]int
}

// NewTable builds a table from commands in the given order. Command names
// must be unique and non-empty, and every command needs at least one
// translation with a non-empty database and function, databases distinct
// (case-insensitive) within the command. The commands are copied.
func NewTable(commands ...Command) (*Table, error) {
	t := &Table{index: make(map[string]int, len(commands))}

	for i, c := range commands {
		if c.Name == "" {
			return nil, errors.InvalidArgument("commands", "empty command name").
				WithField("position", i).Err()
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, errors.InvalidArgument("commands", "duplicate command "+c.Name).Err()
		}
		if len(c.Translations) == 0 {
			return nil, errors.InvalidArgument("commands", "command "+c.Name+" has no translations").Err()
		}
		for j, tr := range c.Translations {
			if tr.Database == "" || tr.Function == "" {
				return nil, errors.InvalidArgument("commands", "command "+c.Name+" has an empty database or function").
					WithField("position", j).Err()
			}
			for _, prev := range c.Translations[:j] {
				if strings.EqualFold(prev.Database, tr.Database) {
					return nil, errors.InvalidArgument("commands", "command "+c.Name+" maps database "+tr.Database+" twice").Err()
				}
			}
		}
		t.append(c.clone())
	}

	return t, nil
}

func (t *Table) append(c Command) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	t.index[c.Name] = len(t.commands)
	t.commands = append(t.commands, c)
}

// Len returns the number of commands in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.commands)
}

// Commands returns a copy of the commands in table order.
func (t *Table) Commands() []Command {
	if t == nil {
		return nil
	}
	out := make([]Command, len(t.commands))
	for i, c := range t.commands {
		out[i] = c.clone()
	}
	return out
}

// Range calls fn for each command in table order until fn returns false.
// The Command passed to fn shares storage with the table and must not be
// modified.
func (t *Table) Range(fn func(c Command) bool) {
	if t == nil {
		return
	}
	for _, c := range t.commands {
		if !fn(c) {
			return
		}
	}
}

// Command returns a copy of the named command.
func (t *Table) Command(name string) (Command, bool) {
	if t == nil {
		return Command{}, false
	}
	i, ok := t.index[name]
	if !ok {
		return Command{}, false
	}
	return t.commands[i].clone(), true
}

// Lookup returns the function mapped for command on database.
func (t *Table) Lookup(command, database string) (string, bool) {
	if t == nil {
		return "", false
	}
	i, ok := t.index[command]
	if !ok {
		return "", false
	}
	return t.commands[i].Function(database)
}

// Databases returns every database named in the table, deduplicated
// case-insensitively, in first-seen order. The first spelling wins.
func (t *Table) Databases() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, c := range t.commands {
		for _, tr := range c.Translations {
			if tr.Database == "" {
				continue
			}
			key := strings.ToLower(tr.Database)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tr.Database)
		}
	}
	return out
}
