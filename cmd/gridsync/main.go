package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"gridsync/engine/internal/cache"
	"gridsync/engine/internal/client"
	"gridsync/engine/internal/config"
	"gridsync/engine/internal/engine"
	"gridsync/engine/internal/export"
	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

const usage = `usage: gridsync -server URL -org ORG -table TABLE [-user NAME] COMMAND

commands:
  get                  print the table grid
  set ROW COL VALUE    edit one cell and sync (VALUE parsed as JSON, else string)
  export FILE.xlsx     write the table as an XLSX workbook
  watch                stream confirmed update batches until interrupted
`

type logNotifier struct{}

func (logNotifier) Notify(message string) { log.Printf("sync: %s", message) }

func main() {
	serverURL := flag.String("server", "http://localhost:8686", "backend base URL")
	orgID := flag.String("org", "", "organization id")
	tableID := flag.String("table", "", "batch table id")
	user := flag.String("user", "gridsync-cli", "acting user recorded on edits")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if *orgID == "" || *tableID == "" || len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	ctx := context.Background()

	c := client.New(*serverURL, nil)
	opts := engine.Options{
		User:       *user,
		Transport:  c,
		Notifier:   logNotifier{},
		Debounce:   cfg.Debounce,
		MaxHistory: cfg.MaxHistory,
	}
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL, cfg.SnapshotTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		opts.Cache = redisCache
	}

	eng, err := engine.New(*orgID, *tableID, opts)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	if err := eng.Load(ctx); err != nil {
		log.Fatalf("load table: %v", err)
	}

	switch args[0] {
	case "get":
		printGrid(eng.Table(ctx))
	case "set":
		if len(args) != 4 {
			flag.Usage()
			os.Exit(2)
		}
		if err := setCell(ctx, eng, args[1], args[2], args[3]); err != nil {
			log.Fatalf("set: %v", err)
		}
	case "export":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		if err := exportTable(eng.Table(ctx), args[1]); err != nil {
			log.Fatalf("export: %v", err)
		}
	case "watch":
		watch(ctx, c, eng, *orgID, *tableID)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printGrid(t *table.Table) {
	if t == nil {
		fmt.Println("(no table loaded)")
		return
	}
	fmt.Printf("%s (%d columns, %d rows)\n", t.Name, t.ColumnCount, t.RowCount)

	keys := make([]string, 0, len(t.Cells))
	for key := range t.Cells {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cell := t.Cells[key]
		col := t.Columns[cell.ColumnIndex]
		fmt.Printf("  [%d,%d] %s = %v\n", cell.RowIndex, cell.ColumnIndex, col.Name, cell.Value)
	}
}

func setCell(ctx context.Context, eng *engine.Engine, rowArg, colArg, valueArg string) error {
	row, err := strconv.Atoi(rowArg)
	if err != nil {
		return fmt.Errorf("row %q: %w", rowArg, err)
	}
	col, err := strconv.Atoi(colArg)
	if err != nil {
		return fmt.Errorf("col %q: %w", colArg, err)
	}

	var value any
	if err := json.Unmarshal([]byte(valueArg), &value); err != nil {
		value = valueArg
	}

	var prev any
	if t := eng.Table(ctx); t != nil {
		if cell, ok := t.Cells[table.CoordKey(row, col)]; ok {
			prev = cell.Value
		}
	}

	entry := engine.Entry{
		Redos: []patch.Operation{patch.UpdateCell{Data: table.CellPatch{RowIndex: row, ColumnIndex: col, Value: &value}}},
		Undos: []patch.Operation{patch.UpdateCell{Data: table.CellPatch{RowIndex: row, ColumnIndex: col, Value: &prev}}},
	}
	return eng.Push(ctx, entry, true)
}

func exportTable(t *table.Table, path string) error {
	if t == nil {
		return fmt.Errorf("no table loaded")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := export.WriteXLSX(t, f); err != nil {
		return err
	}
	return f.Close()
}

func watch(ctx context.Context, c *client.Client, eng *engine.Engine, orgID, tableID string) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := c.Watch(ctx, orgID, tableID, func(ops []patch.Operation) {
		eng.ApplyRemote(ops)
		for _, op := range ops {
			fmt.Printf("remote %s\n", op.Type())
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("watch: %v", err)
	}
}
