// Package journal persists every command a session sends or receives, so a
// finished upload can be inspected after the fact.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/shamaton/msgpack/v2"

	"github.com/InsulaLabs/meshsync/internal/events"
	"github.com/InsulaLabs/meshsync/internal/wire"
)

const (
	metaPrefix   = "meta/"
	recordPrefix = "rec/"
)

var (
	ErrNoRun  = errors.New("journal opened without a run")
	ErrClosed = errors.New("journal closed")
)

type Config struct {
	Logger    *slog.Logger
	Directory string
	// Run names the session being recorded. A journal opened without one can
	// only be read.
	Run string
}

// Record is one command as it crossed the session boundary.
type Record struct {
	Run    string `msgpack:"run"`
	Seq    uint64 `msgpack:"seq"`
	Topic  string `msgpack:"topic"`
	Opcode uint8  `msgpack:"opcode"`
	At     int64  `msgpack:"at"`
	Frame  []byte `msgpack:"frame"`
}

func (r Record) Time() time.Time {
	return time.Unix(0, r.At)
}

// Message decodes the stored frame.
func (r Record) Message() (wire.Message, error) {
	return wire.Unmarshal(r.Frame)
}

type runMeta struct {
	Run     string `msgpack:"run"`
	Started int64  `msgpack:"started"`
}

type RunInfo struct {
	Run     string
	Started time.Time
}

// Journal records appended by the session go into a write batch. The batch is
// flushed before Runs or Replay read, and on Close.
type Journal struct {
	logger *slog.Logger
	db     *badger.DB
	run    string
	seq    atomic.Uint64

	mu    sync.Mutex
	batch *badger.WriteBatch
}

var _ events.TopicSubscriber = &Journal{}

func Open(config Config) (*Journal, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}
	db, err := badger.Open(badger.DefaultOptions(config.Directory).WithLogger(newStoreLogger(logger)))
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	j := &Journal{
		logger: logger.WithGroup("journal"),
		db:     db,
		run:    config.Run,
	}
	if j.run != "" {
		meta, err := msgpack.Marshal(runMeta{Run: j.run, Started: time.Now().UnixNano()})
		if err != nil {
			db.Close()
			return nil, &ErrInternal{Err: err}
		}
		err = db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(metaPrefix+j.run), meta)
		})
		if err != nil {
			db.Close()
			return nil, &ErrInternal{Err: err}
		}
		j.batch = db.NewWriteBatch()
	}
	return j, nil
}

// Flush commits the records appended so far.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.batch == nil {
		return nil
	}
	err := j.batch.Flush()
	j.batch = j.db.NewWriteBatch()
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	var flushErr error
	if j.batch != nil {
		flushErr = j.batch.Flush()
		j.batch = nil
	}
	j.mu.Unlock()
	if flushErr != nil {
		j.logger.Error("error flushing journal", "error", flushErr)
	}

	if err := j.db.Close(); err != nil {
		j.logger.Error("error closing journal db", "error", err)
		return &ErrInternal{Err: err}
	}
	if flushErr != nil {
		return &ErrInternal{Err: flushErr}
	}
	return nil
}

func recordKey(run string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", recordPrefix, run, seq))
}

// Append stores m under the next sequence number of the current run.
func (j *Journal) Append(topic string, m wire.Message, at time.Time) error {
	if j.run == "" {
		return ErrNoRun
	}
	frame, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	rec := Record{
		Run:    j.run,
		Seq:    j.seq.Add(1) - 1,
		Topic:  topic,
		Opcode: uint8(m.Opcode()),
		At:     at.UnixNano(),
		Frame:  frame,
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return &ErrInternal{Err: err}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.batch == nil {
		return ErrClosed
	}
	if err := j.batch.Set(recordKey(rec.Run, rec.Seq), data); err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}

// OnMessage records events published on the session topics.
func (j *Journal) OnMessage(ctx context.Context, event events.Event) {
	if err := j.Append(event.Topic, event.Message, event.EmittedAt); err != nil {
		j.logger.Error("Failed to journal event", "topic", event.Topic, "error", err)
	}
}

// Runs lists recorded runs, oldest first.
func (j *Journal) Runs() ([]RunInfo, error) {
	if err := j.Flush(); err != nil {
		return nil, err
	}
	var runs []RunInfo
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			var meta runMeta
			if err := msgpack.Unmarshal(val, &meta); err != nil {
				return &ErrInternal{Err: err}
			}
			runs = append(runs, RunInfo{Run: meta.Run, Started: time.Unix(0, meta.Started)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(a, b int) bool {
		return runs[a].Started.Before(runs[b].Started)
	})
	return runs, nil
}

// Replay calls fn for every record of run in sequence order. It stops at the
// first error fn returns.
func (j *Journal) Replay(run string, fn func(Record) error) error {
	if err := j.Flush(); err != nil {
		return err
	}
	return j.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + run)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrRunNotFound{Run: run}
			}
			return &ErrInternal{Err: err}
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix + run + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return &ErrInternal{Err: err}
			}
			var rec Record
			if err := msgpack.Unmarshal(val, &rec); err != nil {
				return &ErrInternal{Err: fmt.Errorf("record %s: %w", strings.TrimPrefix(string(it.Item().Key()), recordPrefix), err)}
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}
