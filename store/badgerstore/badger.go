// Package badgerstore is a single-process store.Store backend on top of
// github.com/dgraph-io/badger, grounded on the teacher's
// storage/database/badger_database.go: one badger.Txn per atomic operation,
// committed or discarded as a unit, plus the same background value-log GC
// ticker. It is the right backend for a single orchestrator worker driving
// a net end-to-end; multi-worker deployments should use store/redisstore.
package badgerstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/log"
	"github.com/flowmesh-io/flowmesh/store"
)

const gcThreshold = int64(1 << 30)
const sizeGCTickerTime = 1 * time.Minute

var logger = log.NewModuleLogger(log.Store)

type Store struct {
	fn       string
	db       *badger.DB
	gcTicker *time.Ticker
}

func getDefaultOptions(dir string) badger.Options {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	return opts
}

// Open creates or opens a badger-backed store rooted at dir.
func Open(dir string) (*Store, error) {
	if fi, err := os.Stat(dir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("badgerstore: %s is not a directory", dir)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("badgerstore: mkdir %s: %w", dir, err)
		}
	} else {
		return nil, fmt.Errorf("badgerstore: stat %s: %w", dir, err)
	}

	db, err := badger.Open(getDefaultOptions(dir))
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", dir, err)
	}

	s := &Store{fn: dir, db: db, gcTicker: time.NewTicker(sizeGCTickerTime)}
	go s.runValueLogGC()
	return s, nil
}

func (s *Store) runValueLogGC() {
	_, lastSize := s.db.Size()
	for range s.gcTicker.C {
		_, currSize := s.db.Size()
		if currSize-lastSize < gcThreshold {
			continue
		}
		if err := s.db.RunValueLogGC(0.5); err != nil {
			logger.Error("value log gc failed", "err", err)
			continue
		}
		_, lastSize = s.db.Size()
	}
}

func (s *Store) Close() error {
	s.gcTicker.Stop()
	return s.db.Close()
}

func hashKey(key, field string) []byte { return []byte("h:" + key + ":" + field) }
func setKey(key, member string) []byte { return []byte("s:" + key + ":" + member) }
func setPrefix(key string) []byte      { return []byte("s:" + key + ":") }
func plainKey(key string) []byte       { return []byte("k:" + key) }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	return s.getRaw(plainKey(key))
}

func (s *Store) getRaw(key []byte) (string, bool, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", false, flowerr.Wrap(err, "badgerstore get")
	}
	if val == nil {
		return "", false, nil
	}
	return string(val), true, nil
}

func (s *Store) setRaw(key []byte, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte(value))
	})
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	return s.getRaw(hashKey(key, field))
}

func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	return s.setRaw(hashKey(key, field), value)
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	prefix := []byte("h:" + key + ":")
	out := map[string]string{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			field := string(item.Key()[len(prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[field] = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, flowerr.Wrap(err, "badgerstore hgetall")
	}
	return out, nil
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var result int64
	err := s.db.Update(func(txn *badger.Txn) error {
		k := hashKey(key, field)
		cur := int64(0)
		item, err := txn.Get(k)
		if err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cur, err = strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		result = cur + delta
		return txn.Set(k, []byte(strconv.FormatInt(result, 10)))
	})
	if err != nil {
		return 0, flowerr.Wrap(err, "badgerstore hincrby")
	}
	return result, nil
}

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.HIncrBy(ctx, "counters", key, delta)
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Set(setKey(key, m), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	prefix := setPrefix(key)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, flowerr.Wrap(err, "badgerstore smembers")
	}
	return out, nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	_, found, err := s.getRaw(setKey(key, member))
	return found, err
}

func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	var ok bool
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(plainKey(key))
		if err == nil {
			ok = false
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		ok = true
		return txn.Set(plainKey(key), []byte(value))
	})
	if err != nil {
		return false, flowerr.Wrap(err, "badgerstore setnx")
	}
	return ok, nil
}

// PutToken is the atomic put_token script of spec.md §4.1: a single badger
// transaction checks color_marking[(color,placeIdx)], rejects on
// duplicate, otherwise inserts the marking and bumps the group count.
func (s *Store) PutToken(ctx context.Context, netKey string, placeIdx, tokenIdx, color, groupIdx int) error {
	markKey := hashKey(netKey+":color_marking", fmt.Sprintf("%d:%d", color, placeIdx))
	groupKey := hashKey(netKey+":group_marking", fmt.Sprintf("%d:%d", groupIdx, placeIdx))

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(markKey); err == nil {
			return flowerr.ErrDuplicateToken
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(markKey, []byte(strconv.Itoa(tokenIdx))); err != nil {
			return err
		}

		cur := int64(0)
		if item, err := txn.Get(groupKey); err == nil {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cur, _ = strconv.ParseInt(string(val), 10, 64)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(groupKey, []byte(strconv.FormatInt(cur+1, 10)))
	})
}

// ConsumeTokensBasic is the atomic consume_tokens_basic script of spec.md
// §4.3, run as a single badger transaction so concurrent firings of the
// same (transition, color) never both observe "Ready".
func (s *Store) ConsumeTokensBasic(ctx context.Context, req store.ConsumeRequest) (store.ConsumeResult, error) {
	stateKey := []byte(fmt.Sprintf("state:%s:%d:%d", req.NetKey, req.Transition, req.Color))
	enablersKey := []byte(fmt.Sprintf("enablers:%s:%d:%d", req.NetKey, req.Transition, req.Color))

	result := store.ConsumeResult{PlaceTokens: map[int]int{}}

	err := s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(stateKey); err == nil {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(v) == "fired" {
				result.Outcome = store.OutcomeAlreadyFired
				return nil
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		enablerMember := []byte(fmt.Sprintf("%se:%d", enablersKey, req.EnablerIdx))
		if _, err := txn.Get(enablerMember); err == nil {
			result.Outcome = store.OutcomeAlreadyEnabled
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(enablerMember, []byte{1}); err != nil {
			return err
		}

		markKeys := make([][]byte, len(req.PlaceArcsIn))
		for i, p := range req.PlaceArcsIn {
			markKeys[i] = hashKey(req.NetKey+":color_marking", fmt.Sprintf("%d:%d", req.Color, p))
			item, err := txn.Get(markKeys[i])
			if err == badger.ErrKeyNotFound {
				result.Outcome = store.OutcomeNotReady
				return nil
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			tok, err := strconv.Atoi(string(val))
			if err != nil {
				return err
			}
			result.PlaceTokens[p] = tok
		}

		for i, p := range req.PlaceArcsIn {
			if err := txn.Delete(markKeys[i]); err != nil {
				return err
			}
			groupKey := hashKey(req.NetKey+":group_marking", fmt.Sprintf("%d:%d", req.GroupIdx, p))
			cur := int64(0)
			if item, err := txn.Get(groupKey); err == nil {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				cur, _ = strconv.ParseInt(string(v), 10, 64)
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(groupKey, []byte(strconv.FormatInt(cur-1, 10))); err != nil {
				return err
			}
		}

		if err := txn.Set(stateKey, []byte("firing")); err != nil {
			return err
		}
		result.Outcome = store.OutcomeReady
		result.ConsumedColor = req.Color
		return nil
	})
	if err != nil {
		return store.ConsumeResult{}, flowerr.Wrap(err, "badgerstore consume_tokens")
	}
	return result, nil
}

// MarkFired advances (transition, color) from firing to fired, the final
// step of §4.3 once the action has produced its outputs.
func (s *Store) MarkFired(ctx context.Context, netKey string, transition, color int) error {
	stateKey := []byte(fmt.Sprintf("state:%s:%d:%d", netKey, transition, color))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, []byte("fired"))
	})
}
