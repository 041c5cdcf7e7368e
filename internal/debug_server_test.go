package internal

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestDebugServer_Inspect(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	req.NoError(err)
	defer db.Close()

	req.NoError(db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte("group:g1:member:alice"), []byte("2026-01-01T00:00:00Z")); err != nil {
			return err
		}
		return txn.Set([]byte("user:alice"), []byte("raw"))
	}))

	srv := NewDebugServer(logs.GetLoggerFromLevel(slog.LevelDebug), db, 0, func() map[string]any {
		return map[string]any{"Online users": 3}
	})

	// When inspecting the group prefix
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inspect?prefix=group:", nil))

	// Then only group keys are listed, with the stats
	req.Equal(http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	req.NoError(err)
	req.Contains(string(body), "group:g1:member:alice")
	req.NotContains(string(body), "user:alice")
	req.Contains(string(body), "Online users")
}
