package journal

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"granary/core/events"
	"granary/core/types"
)

var (
	bucketEvents = []byte("events")
	bucketMeta   = []byte("meta")

	metaKeySeq  = []byte("seq")
	metaKeyHead = []byte("head")

	// ErrClosed is returned after Close releases the database handle.
	ErrClosed = errors.New("journal: closed")
)

// Record is one journaled event. Hash covers the previous record's hash plus
// this record's canonical encoding, so any rewrite of history breaks the
// chain.
type Record struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Unix       int64             `json:"unix"`
	PrevHash   string            `json:"prevHash,omitempty"`
	Hash       string            `json:"hash"`
}

// Journal is an append-only bbolt log of ledger events with live fan-out for
// stream subscribers.
type Journal struct {
	db     *bolt.DB
	clock  func() time.Time
	nextID func() string

	mu     sync.Mutex
	subs   map[uint64]chan Record
	subSeq uint64
	closed bool
}

// Open initialises (and migrates) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{
		db:     db,
		clock:  time.Now,
		nextID: func() string { return uuid.NewString() },
		subs:   make(map[uint64]chan Record),
	}, nil
}

// Close releases the database handle and drops every subscriber.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	j.mu.Lock()
	j.closed = true
	for id, ch := range j.subs {
		close(ch)
		delete(j.subs, id)
	}
	j.mu.Unlock()
	return j.db.Close()
}

// SetClock overrides the record timestamp source. Tests use it for
// deterministic output.
func (j *Journal) SetClock(clock func() time.Time) {
	if j == nil || clock == nil {
		return
	}
	j.clock = clock
}

// Append journals one event and notifies subscribers. Slow subscribers are
// skipped rather than blocking the transition that emitted the event.
func (j *Journal) Append(evt *types.Event) (Record, error) {
	if j == nil || j.db == nil {
		return Record{}, ErrClosed
	}
	if evt == nil {
		return Record{}, errors.New("journal: nil event")
	}
	record := Record{
		ID:         j.nextID(),
		Type:       evt.Type,
		Unix:       j.clock().UTC().Unix(),
		Attributes: evt.Clone().Attributes,
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		record.Seq = nextSeq(meta)
		record.PrevHash = string(meta.Get(metaKeyHead))
		record.Hash = chainHash(record)

		encoded, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketEvents).Put(seqKey(record.Seq), encoded); err != nil {
			return err
		}
		if err := meta.Put(metaKeySeq, seqKey(record.Seq)); err != nil {
			return err
		}
		return meta.Put(metaKeyHead, []byte(record.Hash))
	})
	if err != nil {
		return Record{}, err
	}

	j.mu.Lock()
	for _, ch := range j.subs {
		select {
		case ch <- record:
		default:
		}
	}
	j.mu.Unlock()
	return record, nil
}

// List returns up to limit records with Seq strictly greater than cursor, in
// order. A zero cursor reads from the beginning.
func (j *Journal) List(cursor uint64, limit int) ([]Record, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}
	records := make([]Record, 0, limit)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(cursor + 1)); k != nil && len(records) < limit; k, v = c.Next() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Head returns the sequence number of the newest record, zero when empty.
func (j *Journal) Head() (uint64, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	var head uint64
	err := j.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketMeta).Get(metaKeySeq); len(raw) == 8 {
			head = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	return head, err
}

// Verify walks the full chain and reports the first record whose hash does
// not link to its predecessor.
func (j *Journal) Verify() error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	return j.db.View(func(tx *bolt.Tx) error {
		prev := ""
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.PrevHash != prev {
				return fmt.Errorf("journal: record %d: broken link", record.Seq)
			}
			if chainHash(record) != record.Hash {
				return fmt.Errorf("journal: record %d: hash mismatch", record.Seq)
			}
			prev = record.Hash
		}
		return nil
	})
}

// Subscribe returns a channel of records appended after the call, plus a
// cancel function that releases the subscription.
func (j *Journal) Subscribe(buffer int) (<-chan Record, func(), error) {
	if j == nil || j.db == nil {
		return nil, nil, ErrClosed
	}
	if buffer <= 0 {
		buffer = 64
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, nil, ErrClosed
	}
	j.subSeq++
	id := j.subSeq
	ch := make(chan Record, buffer)
	j.subs[id] = ch
	cancel := func() {
		j.mu.Lock()
		if existing, ok := j.subs[id]; ok {
			close(existing)
			delete(j.subs, id)
		}
		j.mu.Unlock()
	}
	return ch, cancel, nil
}

// Sink adapts the journal to the engine's emitter interface. Events without
// a broadcast payload are ignored; append failures are reported through the
// optional error callback since emitters cannot fail a transition.
type Sink struct {
	journal *Journal
	onError func(error)
}

// NewSink wires the journal behind an events.Emitter.
func NewSink(journal *Journal, onError func(error)) *Sink {
	return &Sink{journal: journal, onError: onError}
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	if s == nil || s.journal == nil {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	if _, err := s.journal.Append(payload.Event()); err != nil && s.onError != nil {
		s.onError(err)
	}
}

func nextSeq(meta *bolt.Bucket) uint64 {
	if raw := meta.Get(metaKeySeq); len(raw) == 8 {
		return binary.BigEndian.Uint64(raw) + 1
	}
	return 1
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// chainHash digests the previous hash and the record's canonical fields.
// Attribute keys are folded in sorted order so the digest is deterministic.
func chainHash(record Record) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(record.PrevHash))
	_, _ = h.Write(seqKey(record.Seq))
	_, _ = h.Write([]byte(record.ID))
	_, _ = h.Write([]byte(record.Type))
	_, _ = h.Write(seqKey(uint64(record.Unix)))
	keys := make([]string, 0, len(record.Attributes))
	for k := range record.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(record.Attributes[k]))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
