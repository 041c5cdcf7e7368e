package internal

import (
	"chat-dispatch/infrastructure/storage"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const maxInspectRows = 500

var inspectTemplate = template.Must(template.New("inspect").Parse(`<!doctype html>
<html>
<head><title>dispatcher inspect</title></head>
<body>
<h2>Stats</h2>
<table>{{range $k, $v := .Stats}}<tr><td>{{$k}}</td><td>{{$v}}</td></tr>{{end}}</table>
<h2>Keys under "{{.Prefix}}"</h2>
<form><input name="prefix" value="{{.Prefix}}"><button>go</button></form>
<table>
<tr><th>Key</th><th>Namespace</th><th>Value</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Namespace}}</td><td><code>{{.Detail}}</code></td></tr>{{end}}
</table>
{{if .Truncated}}<p>truncated at {{len .Items}} rows</p>{{end}}
</body>
</html>`))

type InspectRow struct {
	Key       string
	Namespace string
	Detail    string
}

type StatsProvider func() map[string]any

type PageData struct {
	Prefix    string
	Items     []InspectRow
	Stats     map[string]any
	Truncated bool
}

// NewDebugServer serves /inspect: badger keys under ?prefix= and the live
// monitoring snapshot. Only started when the log level is debug.
func NewDebugServer(log *slog.Logger, db *badger.DB, port int, statsProvider StatsProvider) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "session:"
		}
		data := PageData{Prefix: prefix, Stats: map[string]any{}}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		err := db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				if len(data.Items) == maxInspectRows {
					data.Truncated = true
					return nil
				}
				item := it.Item()
				err := item.Value(func(val []byte) error {
					data.Items = append(data.Items, toRow(string(item.Key()), val))
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Error("Inspect failed", "prefix", prefix, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := inspectTemplate.Execute(w, data); err != nil {
			log.Debug("Inspect render failed", "error", err)
		}
	})

	return &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}
}

func toRow(key string, val []byte) InspectRow {
	namespace, _, _ := strings.Cut(key, ":")
	return InspectRow{
		Key:       key,
		Namespace: namespace,
		Detail:    storage.DescribeValue(val),
	}
}
