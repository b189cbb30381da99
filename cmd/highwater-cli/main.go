// highwater-cli is an interactive SQL console over snapshot files.
//
// It opens the daemon's snapshot directory with DuckDB and runs ad-hoc
// queries against the exported Parquet data. The snapshot glob is
// available to queries through the hw_snapshots() hint printed at startup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"

	"github.com/xtxerr/highwater/config"
	"github.com/xtxerr/highwater/internal/query"
	"github.com/xtxerr/highwater/internal/snapshot"
)

// Version is set at build time via ldflags
var Version = "dev"

type console struct {
	svc *query.Service
	dir string
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dir := flag.String("snapshots", "", "snapshot directory (overrides config)")
	execute := flag.String("e", "", "execute one statement and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("highwater-cli %s\n", Version)
		return
	}

	snapDir := *dir
	if snapDir == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			// Load wraps the open error, so unwrap with errors.Is.
			if !errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "load config: %v\n", err)
				os.Exit(1)
			}
			cfg = config.DefaultConfig()
		}
		snapDir = cfg.SnapshotDir()
	}

	svc, err := query.New(snapDir, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open query service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	c := &console{svc: svc, dir: snapDir}

	if *execute != "" {
		c.execute(*execute)
		return
	}

	fmt.Printf("highwater-cli %s\n", Version)
	fmt.Printf("snapshots: %s\n", snapDir)
	fmt.Printf("query them with: SELECT ... FROM read_parquet('%s')\n", svc.SnapshotGlob())
	fmt.Println("type .help for commands, .quit to exit")

	p := prompt.New(
		c.execute,
		c.complete,
		prompt.OptionPrefix("highwater> "),
		prompt.OptionTitle("highwater-cli"),
	)
	p.Run()
}

// execute runs one console line: a dot-command or a SQL statement.
func (c *console) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, ".") {
		c.command(line)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	rows, err := c.svc.ExecuteSQL(ctx, line)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	printRows(rows)
	fmt.Printf("%d row(s) in %s\n", len(rows), time.Since(start).Round(time.Millisecond))
}

func (c *console) command(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".help":
		fmt.Println(".files          list snapshot files")
		fmt.Println(".top [n]        highest aggregates in the latest snapshot")
		fmt.Println(".range from to  aggregates with bucket start in [from, to]")
		fmt.Println(".quit           exit")
		fmt.Println("anything else runs as SQL against DuckDB")

	case ".files":
		files, err := snapshot.List(c.dir)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		if len(files) == 0 {
			fmt.Println("no snapshot files")
			return
		}
		for _, f := range files {
			fmt.Println(f)
		}

	case ".top":
		n := 10
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v <= 0 {
				fmt.Println("usage: .top [n]")
				return
			}
			n = v
		}
		rows, err := c.svc.TopHighs(context.Background(), n)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		for _, r := range rows {
			fmt.Printf("bucket=%d category=%d high=%s\n", r.Bucket, r.Category, r.High)
		}

	case ".range":
		if len(fields) != 3 {
			fmt.Println("usage: .range <from> <to>")
			return
		}
		from, err1 := strconv.ParseInt(fields[1], 10, 64)
		to, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			fmt.Println("usage: .range <from> <to>")
			return
		}
		rows, err := c.svc.QueryRange(context.Background(), query.RangeQuery{
			StartBucket: from,
			EndBucket:   to,
		})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return
		}
		for _, r := range rows {
			fmt.Printf("bucket=%d category=%d high=%s\n", r.Bucket, r.Category, r.High)
		}

	case ".quit", ".exit":
		os.Exit(0)

	default:
		fmt.Printf("unknown command %s (try .help)\n", fields[0])
	}
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	suggestions := []prompt.Suggest{
		{Text: "SELECT", Description: "SQL query"},
		{Text: "FROM", Description: ""},
		{Text: "WHERE", Description: ""},
		{Text: "GROUP BY", Description: ""},
		{Text: "ORDER BY", Description: ""},
		{Text: "LIMIT", Description: ""},
		{Text: "read_parquet('" + c.svc.SnapshotGlob() + "')", Description: "all snapshot files"},
		{Text: "bucket", Description: "bucket start (unix seconds)"},
		{Text: "category", Description: "category id"},
		{Text: "high", Description: "exact decimal high"},
		{Text: "high_float", Description: "float projection of high"},
		{Text: ".files", Description: "list snapshot files"},
		{Text: ".top", Description: "highest aggregates"},
		{Text: ".range", Description: "bucket range"},
		{Text: ".help", Description: "show commands"},
		{Text: ".quit", Description: "exit"},
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

// printRows renders query results with stable column order.
func printRows(rows []map[string]any) {
	if len(rows) == 0 {
		return
	}

	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	fmt.Println(strings.Join(cols, "\t"))
	for _, row := range rows {
		parts := make([]string, len(cols))
		for i, col := range cols {
			parts[i] = fmt.Sprintf("%v", row[col])
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
}
