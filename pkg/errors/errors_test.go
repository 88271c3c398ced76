package errors

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_StringAndCategory(t *testing.T) {
	tests := []struct {
		code     Code
		str      string
		category string
	}{
		{ErrCodeConfigParse, "E1002", "configuration"},
		{ErrCodeInvalidArgument, "E2001", "argument"},
		{ErrCodeExecQuery, "E3002", "execution"},
		{ErrCodeWatch, "E4001", "watch"},
		{ErrCodeResourceExhausted, "E9004", "internal"},
		{Code(42), "E0042", "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.str, func(t *testing.T) {
			assert.Equal(t, tc.str, tc.code.String())
			assert.Equal(t, tc.category, tc.code.Category())
		})
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	err := Wrap(io.ErrUnexpectedEOF, ErrCodeConfigRead, "failed to read config").
		WithField("path", "config.json").
		Err()

	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsCode(err, ErrCodeConfigRead))
	assert.Equal(t, "configuration", GetCode(err).Category())
	assert.Equal(t, "config.json", GetFields(err)["path"])
	assert.Equal(t, "E1001: failed to read config: unexpected EOF", err.Error())
}

func TestGetCode_PlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, GetCode(fmt.Errorf("boom")))
	assert.False(t, IsCode(nil, ErrCodeInternal))
}

func TestGetCode_ThroughFmtWrap(t *testing.T) {
	inner := InvalidArgument("table", "must not be nil").Err()
	outer := fmt.Errorf("rewrite: %w", inner)
	assert.Equal(t, ErrCodeInvalidArgument, GetCode(outer))
}

func TestFormat_Verbose(t *testing.T) {
	err := Internal("unexpected state").WithOp("rewrite.pass").Build()
	out := fmt.Sprintf("%+v", err)

	assert.True(t, strings.Contains(out, "[critical] E9001: unexpected state"))
	assert.True(t, strings.Contains(out, "Operation: rewrite.pass"))
	assert.True(t, strings.Contains(out, "Stack:"))
	assert.Equal(t, `"E9001: unexpected state"`, fmt.Sprintf("%q", err))
}

func TestFormat_VerboseSortsFields(t *testing.T) {
	err := New(ErrCodeResourceExhausted, "too big").
		WithField("size", 40).
		WithField("limit", 30).
		WithField("command", "CMD_NOW").
		Build()
	out := fmt.Sprintf("%+v", err)

	assert.Contains(t, out, "[error] E9004: too big")
	command := strings.Index(out, "command: CMD_NOW")
	limit := strings.Index(out, "limit: 30")
	size := strings.Index(out, "size: 40")
	assert.True(t, command >= 0 && command < limit && limit < size, out)
	assert.NotContains(t, out, "Stack:")
}
