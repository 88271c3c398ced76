package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"

	"github.com/ha1tch/qmap/pkg/execute"
	"github.com/ha1tch/qmap/pkg/log"
	"github.com/ha1tch/qmap/pkg/mapping"
	"github.com/ha1tch/qmap/pkg/rewrite"
	"github.com/ha1tch/qmap/pkg/version"
	"github.com/ha1tch/qmap/pkg/watch"
)

const defaultConfigFile = "config/config.json"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("qmap", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		database    = fs.String("D", "", "Target database")
		databaseL   = fs.String("database", "", "Target database")
		query       = fs.String("q", "", "SQL query to convert")
		queryL      = fs.String("query", "", "SQL query to convert")
		configFile  = fs.String("c", defaultConfigFile, "Mapping file (JSON or YAML)")
		configFileL = fs.String("config", defaultConfigFile, "Mapping file (JSON or YAML)")
		listDBs     = fs.Bool("l", false, "List databases named in the mapping file")
		listDBsL    = fs.Bool("list-databases", false, "List databases named in the mapping file")
		exportFile  = fs.String("o", "", "Write converted query to file")
		exportFileL = fs.String("export", "", "Write converted query to file")
		executeDSN  = fs.String("x", "", "Execute converted query (SQLite file or connection string)")
		executeDSNL = fs.String("execute", "", "Execute converted query (SQLite file or connection string)")
		interactive = fs.Bool("i", false, "Read queries from stdin, one per line")
		interactL   = fs.Bool("interactive", false, "Read queries from stdin, one per line")
		watchFile   = fs.Bool("w", false, "Reload the mapping file when it changes (interactive mode)")
		watchFileL  = fs.Bool("watch", false, "Reload the mapping file when it changes (interactive mode)")
		maxBytes    = fs.Int("max-output", 0, "Maximum size of a converted query in bytes (0 = unlimited)")
		dumpTable   = fs.Bool("dump-table", false, "Print the loaded mapping table and exit")

		logLevel  = fs.String("log-level", "warn", "Log level (debug, info, warn, error, off)")
		logFormat = fs.String("log-format", "text", "Log format (text, json)")
		logCaller = fs.Bool("log-caller", false, "Include file:line in log entries")

		showHelp     = fs.Bool("h", false, "Show help")
		showHelpL    = fs.Bool("help", false, "Show help")
		showVersion  = fs.Bool("v", false, "Show version")
		showVersionL = fs.Bool("version", false, "Show version")
	)

	fs.Usage = func() {
		printUsage(stderr)
	}

	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Coalesce short and long flags
	if *databaseL != "" {
		*database = *databaseL
	}
	if *queryL != "" {
		*query = *queryL
	}
	if *configFileL != defaultConfigFile {
		*configFile = *configFileL
	}
	if *exportFileL != "" {
		*exportFile = *exportFileL
	}
	if *executeDSNL != "" {
		*executeDSN = *executeDSNL
	}
	*listDBs = *listDBs || *listDBsL
	*interactive = *interactive || *interactL
	*watchFile = *watchFile || *watchFileL
	*showHelp = *showHelp || *showHelpL
	*showVersion = *showVersion || *showVersionL

	if *showHelp {
		printUsage(stdout)
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	format, err := log.ParseFormat(*logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	logger := log.New(log.Config{
		DefaultLevel:  level,
		Output:        stderr,
		Format:        format,
		IncludeCaller: *logCaller,
	})
	log.SetDefault(logger)

	table, err := mapping.LoadFile(*configFile, mapping.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration from %s: %v\n", *configFile, err)
		return 1
	}

	if *dumpTable {
		spew.Fdump(stdout, table.Commands())
		return 0
	}

	if *listDBs {
		return listDatabases(table, stdout, stderr)
	}

	rw := rewrite.New(table, rewrite.WithLogger(logger), rewrite.WithMaxOutputBytes(*maxBytes))

	if *interactive {
		if *database == "" {
			fmt.Fprintln(stderr, "Error: --database is required.")
			return 1
		}
		return runInteractive(rw, *database, *configFile, *watchFile, logger, stdin, stdout, stderr)
	}

	if *database == "" || *query == "" {
		fmt.Fprintln(stderr, "Error: --database and --query are required.")
		printUsage(stderr)
		return 1
	}

	result, err := rw.Rewrite(*query, *database)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot generate query for database '%s': %v\n", *database, err)
		return 1
	}

	if *exportFile != "" {
		if err := os.WriteFile(*exportFile, []byte(result+"\n"), 0644); err != nil {
			fmt.Fprintf(stderr, "Unable to open export file: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Exported converted query to %s\n", *exportFile)
	} else {
		fmt.Fprintf(stdout, "\n[%s] Converted Query:\n%s\n", *database, result)
	}

	if *executeDSN != "" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := executeQuery(ctx, *database, *executeDSN, result, logger, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	return 0
}

func listDatabases(table *mapping.Table, stdout, stderr io.Writer) int {
	dbs := table.Databases()
	if len(dbs) == 0 {
		fmt.Fprintln(stderr, "No database functions defined")
		return 0
	}
	fmt.Fprintln(stdout, "Supported database engines (from configuration):")
	for _, db := range dbs {
		fmt.Fprintf(stdout, "  - %s\n", db)
	}
	return 0
}

func executeQuery(ctx context.Context, database, dsn, query string, logger *log.Logger, stdout io.Writer) error {
	exec, err := execute.Open(ctx, execute.Target{Database: database, DSN: dsn}, execute.WithLogger(logger))
	if err != nil {
		return err
	}
	defer exec.Close()

	fmt.Fprintf(stdout, "\nExecuting query on %s:\n%s\n\n", database, query)
	_, err = exec.Run(ctx, query, stdout)
	return err
}

// runInteractive converts one query per stdin line until EOF. Failed lines
// are reported and skipped; the exit status is 1 if any line failed.
func runInteractive(rw *rewrite.Rewriter, database, configFile string, watchChanges bool, logger *log.Logger, stdin io.Reader, stdout, stderr io.Writer) int {
	if watchChanges {
		w, err := watch.NewWatcher(configFile, rw, logger)
		if err != nil {
			fmt.Fprintf(stderr, "error creating watcher: %v\n", err)
			return 1
		}
		if err := w.Start(); err != nil {
			fmt.Fprintf(stderr, "error starting watcher: %v\n", err)
			return 1
		}
		defer w.Stop()
	}

	status := 0
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		result, err := rw.Rewrite(line, database)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = 1
			continue
		}
		fmt.Fprintln(stdout, result)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(stderr, "error reading input: %v\n", err)
		return 1
	}
	return status
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `qmap - rewrite vendor-neutral SQL commands into database-specific functions

Usage:
  qmap [options]

Options:
  -D, --database <name>    Target database (e.g. PostgreSQL, sqlite)
  -q, --query "<query>"    SQL query to convert
  -c, --config <path>      Mapping file, JSON or YAML (default: config/config.json)
  -l, --list-databases     List databases named in the mapping file and exit
  -o, --export <file>      Write converted query to file instead of stdout
  -x, --execute <dsn>      Execute converted query: SQLite file path, or a
                           connection string for PostgreSQL / SQL Server
  -i, --interactive        Read queries from stdin, one per line
  -w, --watch              Reload the mapping file when it changes (with -i)
  --max-output <bytes>     Maximum size of a converted query (default: unlimited)
  --dump-table             Print the loaded mapping table and exit

Logging:
  --log-level <level>      Log level: debug, info, warn, error, off (default: warn)
  --log-format <format>    Log format: text, json (default: text)
  --log-caller             Include file:line in log entries

General:
  -h, --help               Show help
  -v, --version            Show version

Examples:
  qmap --database PostgreSQL --query "SELECT CMD_SUBSTRING(name,1,3) FROM users;"
  qmap -D sqlite -q "SELECT CMD_SUBSTRING(name,1,3) FROM users;" --execute test.db
  qmap -D MySQL -i -w -c mappings.yaml < queries.sql

Mapping file:
  {
    "CMD_SUBSTRING": { "PostgreSQL": "substring", "sqlite": "substr" },
    "CMD_LENGTH":    { "PostgreSQL": "char_length", "sqlite": "length" }
  }

Exit Codes:
  0  Success
  1  Runtime error
  2  CLI usage error
`)
}
