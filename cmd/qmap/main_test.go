package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `{
  "CMD_SUBSTRING": { "PostgreSQL": "substring", "sqlite": "substr", "MySQL": "substr" },
  "CMD_LENGTH":    { "PostgreSQL": "char_length", "SQLite": "length" },
  "CMD_BROKEN":    "not an object"
}`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0644))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Convert(t *testing.T) {
	cfg := writeTestConfig(t)

	code, out, errOut := runCLI(t, "", "--config", cfg, "--log-level", "off",
		"--database", "PostgreSQL", "--query", "SELECT CMD_SUBSTRING(name,1,CMD_LENGTH(name)) FROM users;")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "\n[PostgreSQL] Converted Query:\nSELECT substring(name,1,char_length(name)) FROM users;\n", out)
}

func TestRun_ShortFlags(t *testing.T) {
	cfg := writeTestConfig(t)

	code, out, _ := runCLI(t, "", "-c", cfg, "--log-level", "off", "-D", "sqlite", "-q", "SELECT CMD_LENGTH(x)")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "SELECT length(x)")
}

func TestRun_UnknownDatabaseLeavesQuery(t *testing.T) {
	cfg := writeTestConfig(t)

	code, out, _ := runCLI(t, "", "-c", cfg, "--log-level", "off", "-D", "UnknownDB", "-q", "SELECT CMD_LENGTH(x)")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "[UnknownDB] Converted Query:\nSELECT CMD_LENGTH(x)\n")
}

func TestRun_SkippedEntryIsLogged(t *testing.T) {
	cfg := writeTestConfig(t)

	code, _, errOut := runCLI(t, "", "-c", cfg, "-D", "sqlite", "-q", "SELECT 1")
	require.Equal(t, 0, code)
	assert.Contains(t, errOut, "skipping invalid mapping entry")
	assert.Contains(t, errOut, "command=CMD_BROKEN")
}

func TestRun_LogCaller(t *testing.T) {
	cfg := writeTestConfig(t)

	code, _, errOut := runCLI(t, "", "-c", cfg, "--log-caller", "-D", "sqlite", "-q", "SELECT 1")
	require.Equal(t, 0, code)
	assert.Contains(t, errOut, "[config] loader.go:")

	code, _, errOut = runCLI(t, "", "-c", cfg, "-D", "sqlite", "-q", "SELECT 1")
	require.Equal(t, 0, code)
	assert.NotContains(t, errOut, "loader.go:")
}

func TestRun_Export(t *testing.T) {
	cfg := writeTestConfig(t)
	outFile := filepath.Join(t.TempDir(), "query.sql")

	code, out, _ := runCLI(t, "", "-c", cfg, "--log-level", "off",
		"-D", "MySQL", "-q", "SELECT CMD_SUBSTRING(a,1,2)", "--export", outFile)
	require.Equal(t, 0, code)
	assert.Equal(t, "Exported converted query to "+outFile+"\n", out)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "SELECT substr(a,1,2)\n", string(data))
}

func TestRun_ListDatabases(t *testing.T) {
	cfg := writeTestConfig(t)

	code, out, _ := runCLI(t, "", "-c", cfg, "--log-level", "off", "--list-databases")
	require.Equal(t, 0, code)
	assert.Equal(t, "Supported database engines (from configuration):\n  - PostgreSQL\n  - sqlite\n  - MySQL\n", out)
}

func TestRun_Execute(t *testing.T) {
	cfg := writeTestConfig(t)
	dbFile := filepath.Join(t.TempDir(), "test.db")

	code, out, errOut := runCLI(t, "", "-c", cfg, "--log-level", "off",
		"-D", "sqlite", "-q", "SELECT CMD_SUBSTRING('hello', 1, 3) AS s, CMD_LENGTH('hello') AS n", "-x", dbFile)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Executing query on sqlite:\nSELECT substr('hello', 1, 3) AS s, length('hello') AS n\n")
	assert.Contains(t, out, "s\tn\n")
	assert.Contains(t, out, "hel\t5\n")
}

func TestRun_ExecuteUnsupported(t *testing.T) {
	cfg := writeTestConfig(t)

	code, _, errOut := runCLI(t, "", "-c", cfg, "--log-level", "off",
		"-D", "MySQL", "-q", "SELECT 1", "-x", "whatever")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not supported")
}

func TestRun_Interactive(t *testing.T) {
	cfg := writeTestConfig(t)
	input := "SELECT CMD_LENGTH(a)\n\n  SELECT CMD_SUBSTRING(b,1,2)  \n"

	code, out, _ := runCLI(t, input, "-c", cfg, "--log-level", "off", "-D", "sqlite", "-i")
	require.Equal(t, 0, code)
	assert.Equal(t, "SELECT length(a)\n  SELECT substr(b,1,2)  \n", out)
}

func TestRun_DumpTable(t *testing.T) {
	cfg := writeTestConfig(t)

	code, out, _ := runCLI(t, "", "-c", cfg, "--log-level", "off", "--dump-table")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "CMD_SUBSTRING")
	assert.NotContains(t, out, "CMD_BROKEN")
}

func TestRun_Failures(t *testing.T) {
	cfg := writeTestConfig(t)
	missing := filepath.Join(t.TempDir(), "missing.json")

	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"no args", nil, 2, "Usage:"},
		{"unknown flag", []string{"--bogus"}, 2, "flag provided but not defined"},
		{"bad log level", []string{"--log-level", "loud", "-D", "sqlite", "-q", "x"}, 2, "unknown log level"},
		{"missing query", []string{"-c", cfg, "-D", "sqlite"}, 1, "--database and --query are required"},
		{"missing database", []string{"-c", cfg, "-q", "SELECT 1"}, 1, "--database and --query are required"},
		{"missing config", []string{"-c", missing, "-D", "sqlite", "-q", "SELECT 1"}, 1, "Failed to load configuration"},
		{"output limit", []string{"-c", cfg, "--log-level", "off", "--max-output", "5", "-D", "sqlite", "-q", "CMD_SUBSTRING"}, 1, "cannot generate query"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, "", tc.args...)
			assert.Equal(t, tc.code, code)
			assert.Contains(t, errOut, tc.msg)
		})
	}
}

func TestRun_HelpAndVersion(t *testing.T) {
	code, out, _ := runCLI(t, "", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "qmap - rewrite vendor-neutral SQL commands")

	code, out, _ = runCLI(t, "", "-v")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out, "qmap version "))
}
