package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-protocol/aura/pkg/protocol"
)

const (
	bucketProfiles     = "profiles"
	bucketPairs        = "pairs"
	bucketNullifiers   = "nullifiers"
	bucketCompatEvents = "compat_events"

	streamEvents = "events"
)

func auraStream(addr protocol.Address) string {
	return "aura/" + string(addr)
}

func messageStream(pair protocol.PairID) string {
	return "messages/" + string(pair)
}

// State is the typed protocol view of one ledger transaction. Components take
// it explicitly; it never outlives the transaction it wraps.
type State struct {
	tx     Tx
	now    time.Time
	events []protocol.Event
}

// NewState wraps tx. All timestamps written through the state use now, so a
// transaction has a single point in time.
func NewState(tx Tx, now time.Time) *State {
	return &State{tx: tx, now: now}
}

// Update runs fn in one read-write transaction and returns the events it
// emitted. Events are only returned when the transaction committed.
func Update(ctx context.Context, store Store, clock protocol.Clock, fn func(*State) error) ([]protocol.Event, error) {
	var events []protocol.Event
	err := store.Update(ctx, func(tx Tx) error {
		st := NewState(tx, clock.Now())
		if err := fn(st); err != nil {
			return err
		}
		events = st.events
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// View runs fn in one read-only transaction.
func View(ctx context.Context, store Store, clock protocol.Clock, fn func(*State) error) error {
	return store.View(ctx, func(tx Tx) error {
		return fn(NewState(tx, clock.Now()))
	})
}

// Now returns the transaction time.
func (s *State) Now() time.Time {
	return s.now
}

func (s *State) getJSON(bucket, key string, v any) (bool, error) {
	raw, ok, err := s.tx.Get(bucket, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("ledger: decode %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func (s *State) putJSON(bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledger: encode %s/%s: %w", bucket, key, err)
	}
	return s.tx.Put(bucket, key, raw)
}

func (s *State) appendJSON(stream string, v any) (uint64, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode %s: %w", stream, err)
	}
	return s.tx.Append(stream, raw)
}

func rangeJSON[T any](s *State, stream string, after uint64) ([]T, error) {
	var out []T
	err := s.tx.Range(stream, after, func(_ uint64, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("ledger: decode %s: %w", stream, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// Profile loads the profile of addr. It returns protocol.ErrProfileNotFound
// if none exists.
func (s *State) Profile(addr protocol.Address) (*protocol.Profile, error) {
	var p protocol.Profile
	ok, err := s.getJSON(bucketProfiles, string(addr), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrProfileNotFound, addr)
	}
	return &p, nil
}

// HasProfile reports whether addr has a profile.
func (s *State) HasProfile(addr protocol.Address) (bool, error) {
	_, ok, err := s.tx.Get(bucketProfiles, string(addr))
	return ok, err
}

// PutProfile stores p.
func (s *State) PutProfile(p *protocol.Profile) error {
	return s.putJSON(bucketProfiles, string(p.Owner), p)
}

// Pair loads the record of a pair, or returns false if the pair never
// interacted.
func (s *State) Pair(id protocol.PairID) (*protocol.SwipeRecord, bool, error) {
	var r protocol.SwipeRecord
	ok, err := s.getJSON(bucketPairs, string(id), &r)
	if err != nil || !ok {
		return nil, false, err
	}
	return &r, true, nil
}

// PutPair stores r.
func (s *State) PutPair(r *protocol.SwipeRecord) error {
	return s.putJSON(bucketPairs, string(r.PairID), r)
}

// NullifierOwner returns the principal that consumed n.
func (s *State) NullifierOwner(n protocol.NullifierHash) (protocol.Address, bool, error) {
	var owner protocol.Address
	ok, err := s.getJSON(bucketNullifiers, n.String(), &owner)
	return owner, ok, err
}

// PutNullifier records n as consumed by owner.
func (s *State) PutNullifier(n protocol.NullifierHash, owner protocol.Address) error {
	return s.putJSON(bucketNullifiers, n.String(), owner)
}

// CompatEventUsed reports whether the compatibility event (pair, epoch) was
// consumed.
func (s *State) CompatEventUsed(pair protocol.PairID, epoch string) (bool, error) {
	_, ok, err := s.tx.Get(bucketCompatEvents, string(pair)+"/"+epoch)
	return ok, err
}

// PutCompatEvent records the compatibility event (pair, epoch) as consumed.
func (s *State) PutCompatEvent(pair protocol.PairID, epoch string) error {
	return s.tx.Put(bucketCompatEvents, string(pair)+"/"+epoch, []byte(s.now.Format(time.RFC3339Nano)))
}

// AppendTransaction adds an entry to the user's Aura log.
func (s *State) AppendTransaction(t protocol.AuraTransaction) error {
	_, err := s.appendJSON(auraStream(t.User), t)
	return err
}

// Transactions returns the user's Aura log in order.
func (s *State) Transactions(addr protocol.Address) ([]protocol.AuraTransaction, error) {
	return rangeJSON[protocol.AuraTransaction](s, auraStream(addr), 0)
}

// AppendMessage adds a message reference to the pair's log and returns its
// sequence number.
func (s *State) AppendMessage(ref protocol.MessageRef) (uint64, error) {
	stream := messageStream(ref.Pair)
	var seq uint64
	err := s.tx.Range(stream, 0, func(n uint64, _ []byte) error {
		seq = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	ref.Seq = seq + 1
	return s.appendJSON(stream, ref)
}

// Messages returns the pair's message references in order.
func (s *State) Messages(pair protocol.PairID) ([]protocol.MessageRef, error) {
	return rangeJSON[protocol.MessageRef](s, messageStream(pair), 0)
}

// Emit persists e to the event log and queues it for publication after
// commit. ID and Timestamp are filled in when empty.
func (s *State) Emit(e protocol.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now
	}
	// The stored copy carries no Seq; the log position is the sequence.
	seq, err := s.appendJSON(streamEvents, e)
	if err != nil {
		return err
	}
	e.Seq = seq
	s.events = append(s.events, e)
	return nil
}

// Events returns the events emitted so far in this transaction.
func (s *State) Events() []protocol.Event {
	return s.events
}

// EventLog returns committed events with sequence greater than after.
func (s *State) EventLog(after uint64) ([]protocol.Event, error) {
	var out []protocol.Event
	err := s.tx.Range(streamEvents, after, func(seq uint64, raw []byte) error {
		var e protocol.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("ledger: decode event %d: %w", seq, err)
		}
		e.Seq = seq
		out = append(out, e)
		return nil
	})
	return out, err
}
