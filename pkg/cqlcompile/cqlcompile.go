// Package cqlcompile implements the narrow CQL boundary: it translates
// the small subset of statements the CQL server is allowed to route
// through group0 — selects and updates
// against system.group0_kv_store — into command.KVQuery values, rejecting
// anything wider with an "unsupported operation" error rather than
// attempting a best-effort translation.
//
// This is not a general CQL parser: the real CQL grammar lives upstream
// of this boundary. What's here only needs to
// recognize the handful of shapes the upstream server is permitted to
// forward, so it is hand-written against the standard library's
// strings/strconv rather than pulling in a full grammar toolkit whose
// generated parser this module cannot regenerate without invoking a
// separate code generator.
package cqlcompile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/group0/pkg/command"
)

// ErrUnsupportedOperation is wrapped by every rejection this package
// produces, so callers can distinguish "not expressible through this
// boundary" from a lower-level decode failure.
var ErrUnsupportedOperation = fmt.Errorf("cqlcompile: unsupported operation")

const targetTable = "system.group0_kv_store"

// CompileSelect translates a `SELECT value FROM system.group0_kv_store
// WHERE key = '...'` statement into a select_query. Any statement naming
// a different column list, a different table, a missing or inequality
// restriction on the partition key, or anything else this boundary
// doesn't recognize is rejected with ErrUnsupportedOperation.
func CompileSelect(stmt string) (command.KVQuery, error) {
	toks, err := tokenize(stmt)
	if err != nil {
		return command.KVQuery{}, err
	}

	toks, err = expect(toks, "select")
	if err != nil {
		return command.KVQuery{}, err
	}
	toks, err = expect(toks, "value")
	if err != nil {
		return command.KVQuery{}, fmt.Errorf("cqlcompile: select must name only the value column: %w", ErrUnsupportedOperation)
	}
	toks, err = expect(toks, "from")
	if err != nil {
		return command.KVQuery{}, err
	}
	toks, err = expectTable(toks)
	if err != nil {
		return command.KVQuery{}, err
	}
	toks, err = expect(toks, "where")
	if err != nil {
		return command.KVQuery{}, fmt.Errorf("cqlcompile: select must restrict the partition key: %w", ErrUnsupportedOperation)
	}
	key, toks, err := expectKeyEquality(toks)
	if err != nil {
		return command.KVQuery{}, err
	}
	if len(toks) != 0 {
		return command.KVQuery{}, fmt.Errorf("cqlcompile: unexpected trailing tokens after WHERE key = ...: %w", ErrUnsupportedOperation)
	}

	return command.KVQuery{
		Kind:   command.KVQuerySelect,
		Select: &command.SelectQuery{Key: []byte(key)},
	}, nil
}

// CompileUpdate translates `UPDATE system.group0_kv_store SET value =
// '...' WHERE key = '...' [IF value = '...']` into an update_query.
// Exactly one SET assignment (value) and at most one IF precondition are
// allowed; anything else is rejected.
func CompileUpdate(stmt string) (command.KVQuery, error) {
	toks, err := tokenize(stmt)
	if err != nil {
		return command.KVQuery{}, err
	}

	toks, err = expect(toks, "update")
	if err != nil {
		return command.KVQuery{}, err
	}
	toks, err = expectTable(toks)
	if err != nil {
		return command.KVQuery{}, err
	}
	toks, err = expect(toks, "set")
	if err != nil {
		return command.KVQuery{}, err
	}
	toks, err = expect(toks, "value")
	if err != nil {
		return command.KVQuery{}, fmt.Errorf("cqlcompile: update must assign only the value column: %w", ErrUnsupportedOperation)
	}
	toks, err = expect(toks, "=")
	if err != nil {
		return command.KVQuery{}, err
	}
	newValue, toks, err := expectLiteral(toks)
	if err != nil {
		return command.KVQuery{}, err
	}
	toks, err = expect(toks, "where")
	if err != nil {
		return command.KVQuery{}, fmt.Errorf("cqlcompile: update must restrict the partition key: %w", ErrUnsupportedOperation)
	}
	key, toks, err := expectKeyEquality(toks)
	if err != nil {
		return command.KVQuery{}, err
	}

	var condition *[]byte
	if len(toks) > 0 {
		toks, err = expect(toks, "if")
		if err != nil {
			return command.KVQuery{}, fmt.Errorf("cqlcompile: at most one IF value = ... precondition is supported: %w", ErrUnsupportedOperation)
		}
		toks, err = expect(toks, "value")
		if err != nil {
			return command.KVQuery{}, fmt.Errorf("cqlcompile: only an IF value = ... precondition is supported: %w", ErrUnsupportedOperation)
		}
		toks, err = expect(toks, "=")
		if err != nil {
			return command.KVQuery{}, err
		}
		var prevValue string
		prevValue, toks, err = expectLiteral(toks)
		if err != nil {
			return command.KVQuery{}, err
		}
		b := []byte(prevValue)
		condition = &b
	}

	if len(toks) != 0 {
		return command.KVQuery{}, fmt.Errorf("cqlcompile: unexpected trailing tokens: %w", ErrUnsupportedOperation)
	}

	return command.KVQuery{
		Kind: command.KVQueryUpdate,
		Update: &command.UpdateQuery{
			Key:            []byte(key),
			NewValue:       []byte(newValue),
			ValueCondition: condition,
		},
	}, nil
}

func expect(toks []string, want string) ([]string, error) {
	if len(toks) == 0 || !strings.EqualFold(toks[0], want) {
		return nil, fmt.Errorf("cqlcompile: expected %q: %w", want, ErrUnsupportedOperation)
	}
	return toks[1:], nil
}

func expectTable(toks []string) ([]string, error) {
	if len(toks) == 0 || !strings.EqualFold(toks[0], targetTable) {
		return nil, fmt.Errorf("cqlcompile: only %s is reachable through this boundary: %w", targetTable, ErrUnsupportedOperation)
	}
	return toks[1:], nil
}

// expectKeyEquality parses `key = '<literal>'` and returns the decoded
// literal plus the remaining tokens.
func expectKeyEquality(toks []string) (string, []string, error) {
	toks, err := expect(toks, "key")
	if err != nil {
		return "", nil, err
	}
	toks, err = expect(toks, "=")
	if err != nil {
		return "", nil, err
	}
	return expectLiteral(toks)
}

// expectLiteral consumes a single-quoted UTF-8 text literal; binary blob
// literals are not supported in this version.
func expectLiteral(toks []string) (string, []string, error) {
	if len(toks) == 0 {
		return "", nil, fmt.Errorf("cqlcompile: expected a quoted literal: %w", ErrUnsupportedOperation)
	}
	raw := toks[0]
	lit, err := strconv.Unquote(strings.ReplaceAll(raw, "'", `"`))
	if err != nil {
		return "", nil, fmt.Errorf("cqlcompile: invalid literal %q: %w", raw, ErrUnsupportedOperation)
	}
	return lit, toks[1:], nil
}

// tokenize splits stmt into whitespace-separated tokens, keeping quoted
// literals intact as single tokens.
func tokenize(stmt string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inQuote := false

	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}

	for _, r := range stmt {
		switch {
		case r == '\'':
			cur.WriteRune(r)
			inQuote = !inQuote
		case inQuote:
			cur.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		case r == '=':
			flush()
			toks = append(toks, "=")
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	if inQuote {
		return nil, fmt.Errorf("cqlcompile: unterminated string literal: %w", ErrUnsupportedOperation)
	}
	return toks, nil
}
