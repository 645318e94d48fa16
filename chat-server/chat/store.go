package chat

import (
	"encoding/binary"
	"encoding/json"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Key layout. Sequence numbers are 8-byte big-endian so byte order is
// append order.
//
//	b<seq>          broadcast message
//	m<id>           broadcast id -> seq
//	p<seq>          private message record
//	i<conn>\x00<seq> private log entry of conn, points at p<seq>
const (
	prefixBroadcast = 'b'
	prefixMessageID = 'm'
	prefixPrivate   = 'p'
	prefixInbox     = 'i'
)

// Store holds the broadcast history and the private message logs in a
// pebble instance backed by an in-memory filesystem. Nothing survives a
// restart and nothing is evicted.
type Store struct {
	db    *pebble.DB
	mu    sync.Mutex
	newID func() string

	nextBroadcast uint64
	nextPrivate   uint64
}

// OpenStore creates an empty in-memory store.
func OpenStore(log zerolog.Logger) (*Store, error) {
	db, err := pebble.Open("chat", &pebble.Options{
		FS:         vfs.NewMem(),
		DisableWAL: true,
		Logger:     pebbleLogger{log: log},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open message store")
	}
	return &Store{db: db, newID: uuid.NewString}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendBroadcast stores msg at the end of the broadcast history. An empty
// ID is replaced by a generated one.
func (s *Store) AppendBroadcast(msg BroadcastMessage) (BroadcastMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Reactions == nil {
		msg.Reactions = Reactions{}
	}
	val, err := json.Marshal(msg)
	if err != nil {
		return BroadcastMessage{}, errors.Wrap(err, "encode broadcast")
	}
	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()
	_ = b.Set(seqKey(prefixBroadcast, s.nextBroadcast), val, nil)
	_ = b.Set(messageIDKey(msg.ID), encodeSeq(s.nextBroadcast), nil)
	if err := b.Commit(pebble.NoSync); err != nil {
		return BroadcastMessage{}, errors.Wrap(err, "append broadcast")
	}
	s.nextBroadcast++
	return msg, nil
}

// FindBroadcast looks a broadcast message up by id.
func (s *Store) FindBroadcast(id string) (BroadcastMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, msg, err := s.findBroadcast(id)
	return msg, err
}

func (s *Store) findBroadcast(id string) (uint64, BroadcastMessage, error) {
	raw, err := s.get(messageIDKey(id))
	if err != nil {
		return 0, BroadcastMessage{}, err
	}
	seq := binary.BigEndian.Uint64(raw)
	var msg BroadcastMessage
	if err := s.getJSON(seqKey(prefixBroadcast, seq), &msg); err != nil {
		return 0, BroadcastMessage{}, err
	}
	if msg.Reactions == nil {
		msg.Reactions = Reactions{}
	}
	return seq, msg, nil
}

// AddReaction records name under symbol on the message and returns the
// message's full reaction set and whether it changed. Adding an existing
// pair is a no-op.
func (s *Store) AddReaction(id, symbol, name string) (Reactions, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, msg, err := s.findBroadcast(id)
	if err != nil {
		return nil, false, err
	}
	if !msg.Reactions.Add(symbol, name) {
		return msg.Reactions, false, nil
	}
	val, err := json.Marshal(msg)
	if err != nil {
		return nil, false, errors.Wrap(err, "encode broadcast")
	}
	if err := s.db.Set(seqKey(prefixBroadcast, seq), val, pebble.NoSync); err != nil {
		return nil, false, errors.Wrap(err, "update reactions")
	}
	return msg.Reactions, true, nil
}

// AppendPrivate stores one record for msg and links it into both the
// sender's and the recipient's private log. The logs outlive the
// connections they are keyed by.
func (s *Store) AppendPrivate(msg PrivateMessage) (PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.Reactions == nil {
		msg.Reactions = Reactions{}
	}
	val, err := json.Marshal(msg)
	if err != nil {
		return PrivateMessage{}, errors.Wrap(err, "encode private message")
	}
	seq := s.nextPrivate
	b := s.db.NewBatch()
	defer func() { _ = b.Close() }()
	_ = b.Set(seqKey(prefixPrivate, seq), val, nil)
	_ = b.Set(inboxKey(msg.SenderID, seq), nil, nil)
	_ = b.Set(inboxKey(msg.RecipientID, seq), nil, nil)
	if err := b.Commit(pebble.NoSync); err != nil {
		return PrivateMessage{}, errors.Wrap(err, "append private message")
	}
	s.nextPrivate++
	return msg, nil
}

// PrivateLog returns every private message sent or received by connID, in
// append order.
func (s *Store) PrivateLog(connID string) ([]PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lower := inboxPrefix(connID)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upperBound(lower)})
	if err != nil {
		return nil, errors.Wrap(err, "iterate private log")
	}
	defer func() { _ = it.Close() }()
	var seqs []uint64
	for it.First(); it.Valid(); it.Next() {
		k := it.Key()
		if len(k) < len(lower)+8 {
			continue
		}
		seqs = append(seqs, binary.BigEndian.Uint64(k[len(k)-8:]))
	}
	out := make([]PrivateMessage, 0, len(seqs))
	for _, seq := range seqs {
		var m PrivateMessage
		if err := s.getJSON(seqKey(prefixPrivate, seq), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Conversation returns the part of connID's private log exchanged with other.
func (s *Store) Conversation(connID, other string) ([]PrivateMessage, error) {
	entries, err := s.PrivateLog(connID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(entries, func(m PrivateMessage, _ int) bool {
		return m.Counterpart(connID) == other
	}), nil
}

// Page returns page number page of size limit over the broadcast history,
// i.e. messages [page*limit, page*limit+limit). hasMore reports whether
// anything follows the requested range.
func (s *Store) Page(page, limit int) ([]BroadcastMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.nextBroadcast
	if page < 0 || limit <= 0 {
		return []BroadcastMessage{}, false, nil
	}
	if uint64(page) > total/uint64(limit) {
		return []BroadcastMessage{}, false, nil
	}
	start := uint64(page) * uint64(limit)
	if start >= total {
		return []BroadcastMessage{}, false, nil
	}
	end := min(start+uint64(limit), total)
	msgs, err := s.scanBroadcasts(start, end)
	if err != nil {
		return nil, false, err
	}
	return msgs, start+uint64(limit) < total, nil
}

// Search returns the broadcast messages whose text contains query, ignoring
// case. An empty query matches everything.
func (s *Store) Search(query string) ([]BroadcastMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.scanBroadcasts(0, s.nextBroadcast)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	return lo.Filter(all, func(m BroadcastMessage, _ int) bool {
		return strings.Contains(strings.ToLower(m.Text), q)
	}), nil
}

// BroadcastCount returns the number of stored broadcast messages.
func (s *Store) BroadcastCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.nextBroadcast)
}

func (s *Store) scanBroadcasts(start, end uint64) ([]BroadcastMessage, error) {
	if start >= end {
		return []BroadcastMessage{}, nil
	}
	out := make([]BroadcastMessage, 0, end-start)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: seqKey(prefixBroadcast, start),
		UpperBound: seqKey(prefixBroadcast, end),
	})
	if err != nil {
		return nil, errors.Wrap(err, "iterate broadcasts")
	}
	defer func() { _ = it.Close() }()
	for it.First(); it.Valid(); it.Next() {
		var m BroadcastMessage
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return nil, errors.Wrap(err, "decode broadcast")
		}
		if m.Reactions == nil {
			m.Reactions = Reactions{}
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %q", key)
	}
	defer func() { _ = closer.Close() }()
	return append([]byte(nil), val...), nil
}

func (s *Store) getJSON(key []byte, v any) error {
	raw, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(err, "decode %q", key)
	}
	return nil
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func seqKey(prefix byte, seq uint64) []byte {
	return append([]byte{prefix}, encodeSeq(seq)...)
}

func messageIDKey(id string) []byte {
	return append([]byte{prefixMessageID}, id...)
}

func inboxPrefix(connID string) []byte {
	k := append([]byte{prefixInbox}, connID...)
	return append(k, 0)
}

func inboxKey(connID string, seq uint64) []byte {
	return append(inboxPrefix(connID), encodeSeq(seq)...)
}

// upperBound returns the smallest key greater than every key with prefix p.
func upperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// pebbleLogger routes the engine's own log lines into zerolog.
type pebbleLogger struct {
	log zerolog.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatal().Msgf(format, args...)
}
