// Command inspect dumps stored messages from a badger database without
// stopping a running server. Opens read-only with BypassLockGuard and can
// optionally run a full-text query against the search index.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"chat-core/domain"
	"chat-core/search"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	conversation := flag.String("conversation", "", "Conversation id to scan (all when empty)")
	indexPath := flag.String("index", "", "Path to the search index")
	query := flag.String("query", "", "Full-text query (requires -index and -conversation)")
	limit := flag.Int("limit", 100, "Maximum rows to print")
	flag.Parse()

	if *query != "" {
		if *indexPath == "" || *conversation == "" {
			log.Fatal("-query requires both -index and -conversation")
		}
		runSearch(*indexPath, *conversation, *query, *limit)
		return
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := newTable([]string{"Key", "Conversation", "Sender", "Recipient", "Created", "Read", "Content"})

	prefix := "msg:"
	if *conversation != "" {
		prefix = "msg:" + *conversation + ":"
	}

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes) && rows < *limit; it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var message domain.Message
				if err := json.Unmarshal(v, &message); err != nil {
					// Keep scanning instead of aborting on one bad record
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}

				read := color.Yellow.Sprint("unread")
				if message.Read {
					read = color.Green.Sprint("read")
				}

				table.Append([]string{
					shorten(string(item.Key()), 40),
					message.ConversationID,
					message.SenderID,
					message.RecipientID,
					message.CreatedAt.Format("2006-01-02 15:04:05"),
					read,
					shorten(message.Content, 60),
				})
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
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d message(s)\n", rows)
}

func runSearch(indexPath, conversation, query string, limit int) {
	index, err := search.Open(indexPath, logs.GetLoggerFromLevel(slog.LevelWarn))
	if err != nil {
		log.Fatal("Error while opening search index: ", err)
	}
	defer index.Close()

	hits, total, err := index.Search(context.Background(), conversation, query, limit)
	if err != nil {
		log.Fatal(err)
	}

	table := newTable([]string{"Message ID", "Sender", "Content"})
	for _, hit := range hits {
		table.Append([]string{hit.MessageID.String(), hit.SenderID, shorten(hit.Content, 80)})
	}
	table.Render()
	fmt.Printf("%d of %d hit(s)\n", len(hits), total)
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
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
	return table
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-1]) + "…"
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
