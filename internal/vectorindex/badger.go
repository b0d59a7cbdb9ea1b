package vectorindex

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Compile-time check that BadgerIndex implements Index.
var _ Index = (*BadgerIndex)(nil)

// Key layout:
//
//	vec:<message_id>               -> <uint16 len(user_id)><user_id><float32 LE...>
//	usr:<user_id>\x00<message_id>  -> empty
const (
	vecPrefix  = "vec:"
	userPrefix = "usr:"
)

// BadgerIndex keeps vectors in an embedded Badger database.
type BadgerIndex struct {
	db  *badger.DB
	dim int
}

// badgerLogger routes Badger's printf-style logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.logger.Error(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.logger.Warn(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.logger.Debug(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debug(fmt.Sprintf(msg, items...)) }

// OpenBadger opens (or creates) a Badger vector index in dir. An empty dir
// opens an in-memory database (used by tests).
func OpenBadger(dir string, dim int) (*BadgerIndex, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating vector directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: slog.Default().With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerIndex{db: db, dim: dim}, nil
}

func vecKey(messageID string) []byte { return []byte(vecPrefix + messageID) }

func userKey(userID, messageID string) []byte {
	return []byte(userPrefix + userID + "\x00" + messageID)
}

func userKeyPrefix(userID string) []byte { return []byte(userPrefix + userID + "\x00") }

func encodeEntry(e Entry) []byte {
	vec := encodeFloat32s(e.Embedding)
	buf := make([]byte, 2+len(e.UserID)+len(vec))
	binary.LittleEndian.PutUint16(buf, uint16(len(e.UserID)))
	copy(buf[2:], e.UserID)
	copy(buf[2+len(e.UserID):], vec)
	return buf
}

// decodeEntry reads the user id and, when withVec is set, the embedding.
func decodeEntry(messageID string, val []byte, withVec bool) (Entry, error) {
	if len(val) < 2 {
		return Entry{}, fmt.Errorf("vector record %s too short", messageID)
	}
	n := int(binary.LittleEndian.Uint16(val))
	if len(val) < 2+n {
		return Entry{}, fmt.Errorf("vector record %s truncated", messageID)
	}
	e := Entry{MessageID: messageID, UserID: string(val[2 : 2+n])}
	if withVec {
		v, err := decodeFloat32sInto(nil, val[2+n:])
		if err != nil {
			return Entry{}, fmt.Errorf("decoding embedding for %s: %w", messageID, err)
		}
		e.Embedding = v
	}
	return e, nil
}

func (b *BadgerIndex) checkDim(v []float32) error {
	if b.dim > 0 && len(v) != b.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), b.dim)
	}
	return nil
}

// Upsert writes entries, committing early and continuing in a new
// transaction whenever Badger reports the transaction is too big.
func (b *BadgerIndex) Upsert(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := b.checkDim(e.Embedding); err != nil {
			return fmt.Errorf("entry %s: %w", e.MessageID, err)
		}
	}

	txn := b.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.putEntry(txn, e)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return fmt.Errorf("committing vector batch: %w", err)
			}
			txn = b.db.NewTransaction(true)
			err = b.putEntry(txn, e)
		}
		if err != nil {
			return fmt.Errorf("upserting vector %s: %w", e.MessageID, err)
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing vectors: %w", err)
	}
	return nil
}

func (b *BadgerIndex) putEntry(txn *badger.Txn, e Entry) error {
	// A re-indexed message may move to another user; drop the stale user key.
	item, err := txn.Get(vecKey(e.MessageID))
	switch {
	case err == nil:
		var old Entry
		if err := item.Value(func(val []byte) error {
			old, err = decodeEntry(e.MessageID, val, false)
			return err
		}); err != nil {
			return err
		}
		if old.UserID != e.UserID {
			if err := txn.Delete(userKey(old.UserID, e.MessageID)); err != nil {
				return err
			}
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	if err := txn.Set(vecKey(e.MessageID), encodeEntry(e)); err != nil {
		return err
	}
	return txn.Set(userKey(e.UserID, e.MessageID), nil)
}

// Flush syncs the value log to disk. In-memory databases have nothing to sync.
func (b *BadgerIndex) Flush(context.Context) error {
	if b.db.Opts().InMemory {
		return nil
	}
	return b.db.Sync()
}

// Nearest scans every vector and keeps the top k by inner product.
func (b *BadgerIndex) Nearest(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := b.checkDim(vec); err != nil {
		return nil, err
	}

	best := newTopK(k)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(vecPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var buf []float32
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(item.Key()[len(vecPrefix):])
			err := item.Value(func(val []byte) error {
				if len(val) < 2 {
					return fmt.Errorf("vector record %s too short", id)
				}
				n := int(binary.LittleEndian.Uint16(val))
				if len(val) < 2+n {
					return fmt.Errorf("vector record %s truncated", id)
				}
				var err error
				buf, err = decodeFloat32sInto(buf, val[2+n:])
				if err != nil {
					return err
				}
				best.offer(id, innerProduct(vec, buf))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	return best.sorted(), nil
}

// LookupByIDs returns entries for the given message ids.
func (b *BadgerIndex) LookupByIDs(ctx context.Context, ids []string) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(vecKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var e Entry
			if err := item.Value(func(val []byte) error {
				e, err = decodeEntry(id, val, true)
				return err
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("looking up vectors: %w", err)
	}
	return out, nil
}

// VectorsForUser walks the user's secondary keys and loads each vector.
func (b *BadgerIndex) VectorsForUser(ctx context.Context, userID string) ([][]float32, error) {
	var out [][]float32
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := userKeyPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			mid := string(it.Item().Key()[len(prefix):])
			item, err := txn.Get(vecKey(mid))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var e Entry
			if err := item.Value(func(val []byte) error {
				e, err = decodeEntry(mid, val, true)
				return err
			}); err != nil {
				return err
			}
			out = append(out, e.Embedding)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading vectors for user: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}
