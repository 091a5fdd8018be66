package main

import (
	"dm-relay/infrastructure/storage"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// inspect prints the records of an offline badger store, e.g.
// go run ./cmd/inspect -db ./data -prefix msg:
func main() {
	dbPath := flag.String("db", "./data", "Path to badger DB")
	prefix := flag.String("prefix", "", "Key prefix to scan, empty for everything")
	limit := flag.Int("limit", 100, "Maximum number of records")
	flag.Parse()

	if err := run(*dbPath, *prefix, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, prefix string, limit int) error {
	if dbPath == "" {
		return fmt.Errorf("a database path is required")
	}
	db, err := storage.Open(dbPath, logs.GetLoggerFromLevel(slog.LevelWarn))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	records, err := storage.Inspect(db, prefix, limit)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Kind", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, record := range records {
		table.Append([]string{record.Key, record.Kind, record.Detail})
	}
	table.Render()
	fmt.Printf("\n%d record(s)\n", len(records))
	return nil
}
