package storage

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Record is one decoded key/value pair, for the debug server and cmd/inspect.
type Record struct {
	Key    string `json:"key"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Inspect lists at most limit records whose key starts with prefix.
// Password hashes are never shown.
func Inspect(db *badger.DB, prefix string, limit int) ([]Record, error) {
	var records []Record
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(records) >= limit {
				return nil
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			records = append(records, describe(key, val))
		}
		return nil
	})
	return records, err
}

func describe(key string, val []byte) Record {
	switch {
	case strings.HasPrefix(key, messagePrefix):
		m, err := decodeMessage(val)
		if err != nil {
			return Record{Key: key, Kind: "message", Detail: "corrupt: " + err.Error()}
		}
		flags := ""
		if m.IsEdited() {
			flags += " edited"
		}
		if m.Deleted {
			flags += " deleted"
		}
		return Record{Key: key, Kind: "message",
			Detail: fmt.Sprintf("%s %s->%s %q%s", m.ID, m.SenderID, m.ReceiverID, m.Content, flags)}
	case strings.HasPrefix(key, userEmailPrefix), strings.HasPrefix(key, userOrderPrefix),
		strings.HasPrefix(key, messageIndexPrefix):
		return Record{Key: key, Kind: "index", Detail: string(val)}
	case strings.HasPrefix(key, userPrefix):
		u, err := decodeUser(val)
		if err != nil {
			return Record{Key: key, Kind: "user", Detail: "corrupt: " + err.Error()}
		}
		return Record{Key: key, Kind: "user",
			Detail: fmt.Sprintf("%s <%s> %s roles=%s", u.Username, u.Email, u.Status, strings.Join(u.Roles, ","))}
	default:
		return Record{Key: key, Kind: "raw", Detail: fmt.Sprintf("%d bytes", len(val))}
	}
}
