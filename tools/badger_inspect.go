package main

import (
	"chat-dispatch/infrastructure/storage"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

const maxDetailWidth = 120

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	skipIndexes := flag.Bool("skip-indexes", true, "Hide notif_idx: and user_session: entries")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithReadOnly(true).WithLogger(nil))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Namespace", "Size", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if *skipIndexes && isIndex(key) {
				continue
			}
			err := item.Value(func(v []byte) error {
				namespace, _, _ := strings.Cut(key, ":")
				table.Append([]string{key, namespace, humanize.Bytes(uint64(len(v))), truncate(storage.DescribeValue(v))})
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("Error while scanning: ", err)
	}

	table.SetFooter([]string{"", "", "rows", strconv.Itoa(rows)})
	table.Render()
}

func isIndex(key string) bool {
	return strings.HasPrefix(key, "notif_idx:") || strings.HasPrefix(key, "user_session:")
}

func truncate(s string) string {
	if len(s) <= maxDetailWidth {
		return s
	}
	return s[:maxDetailWidth-3] + "..."
}
