// Package matchmaking implements the Matchmaker (C4): an in-memory,
// mutex-guarded multiplayer queue paired with a best-effort audit log,
// grounded in the teacher's GameBridge.MatchmakingQueue pattern.
package matchmaking

import (
	"log"
	"time"

	"github.com/google/uuid"

	"connectline/internal/db"
	"connectline/internal/models"
)

// Entry is one channel waiting for an opponent.
type Entry struct {
	ID         string
	ChannelID  string
	UserID     string
	Difficulty models.Difficulty
	QueuedAt   time.Time
}

// Match is a paired-off pair of entries ready to become a session.
type Match struct {
	A, B Entry
	// Difficulty is the first entrant's difficulty (spec.md §5 Open
	// Question decision: the earlier queue entry's choice governs).
	Difficulty models.Difficulty
}

// Queue is the authoritative, single-process multiplayer queue. It is
// never sharded or persisted as a source of truth (spec.md §5); the
// backing table is a fire-and-forget audit trail only.
type Queue struct {
	mu       chan struct{} // binary semaphore, see lock()/unlock()
	entries  []Entry
	byChan   map[string]int // channelID -> index into entries
	database *db.DB
	ttl      time.Duration
}

// New builds an empty Queue. database may be nil, in which case audit
// logging is skipped (tests commonly run without a DB).
func New(database *db.DB, entryTTL time.Duration) *Queue {
	if entryTTL <= 0 {
		entryTTL = 120 * time.Second
	}
	q := &Queue{
		mu:       make(chan struct{}, 1),
		byChan:   make(map[string]int),
		database: database,
		ttl:      entryTTL,
	}
	q.mu <- struct{}{}
	return q
}

func (q *Queue) lock()   { <-q.mu }
func (q *Queue) unlock() { q.mu <- struct{}{} }

// Enqueue adds channelID to the queue under difficulty. Re-enqueueing an
// already-queued channel is a no-op that returns its existing entry.
func (q *Queue) Enqueue(channelID, userID string, difficulty models.Difficulty) Entry {
	q.lock()
	defer q.unlock()

	if idx, ok := q.byChan[channelID]; ok {
		return q.entries[idx]
	}

	entry := Entry{
		ID:         uuid.New().String(),
		ChannelID:  channelID,
		UserID:     userID,
		Difficulty: difficulty,
		QueuedAt:   time.Now(),
	}
	q.entries = append(q.entries, entry)
	q.byChan[channelID] = len(q.entries) - 1
	q.audit(entry, "enqueued")
	return entry
}

// Dequeue removes channelID from the queue, if present.
func (q *Queue) Dequeue(channelID string) {
	q.lock()
	defer q.unlock()
	if idx, ok := q.byChan[channelID]; ok {
		q.audit(q.entries[idx], "dequeued")
	}
	q.removeLocked(channelID)
}

func (q *Queue) removeLocked(channelID string) {
	idx, ok := q.byChan[channelID]
	if !ok {
		return
	}
	last := len(q.entries) - 1
	q.entries[idx] = q.entries[last]
	q.byChan[q.entries[idx].ChannelID] = idx
	q.entries = q.entries[:last]
	delete(q.byChan, channelID)
}

// TryMatch pairs the two oldest queued entries, if at least two are
// waiting, and removes both from the queue atomically with the pairing
// decision. Returns (Match{}, false) if fewer than two entries are queued.
func (q *Queue) TryMatch() (Match, bool) {
	q.lock()
	defer q.unlock()

	if len(q.entries) < 2 {
		return Match{}, false
	}

	oldestIdx, secondIdx := 0, 1
	if q.entries[secondIdx].QueuedAt.Before(q.entries[oldestIdx].QueuedAt) {
		oldestIdx, secondIdx = secondIdx, oldestIdx
	}
	for i := 2; i < len(q.entries); i++ {
		if q.entries[i].QueuedAt.Before(q.entries[oldestIdx].QueuedAt) {
			secondIdx = oldestIdx
			oldestIdx = i
		} else if q.entries[i].QueuedAt.Before(q.entries[secondIdx].QueuedAt) {
			secondIdx = i
		}
	}

	a := q.entries[oldestIdx]
	b := q.entries[secondIdx]
	q.removeLocked(a.ChannelID)
	q.removeLocked(b.ChannelID)

	match := Match{A: a, B: b, Difficulty: a.Difficulty}
	q.audit(a, "matched")
	q.audit(b, "matched")
	return match, true
}

// Requeue reinserts an entry that failed to match (endpoint picker
// exhausted), preserving its original QueuedAt so it keeps its place at
// the head of the line rather than being penalized for the failed attempt.
func (q *Queue) Requeue(e Entry) {
	q.lock()
	defer q.unlock()
	if _, ok := q.byChan[e.ChannelID]; ok {
		return
	}
	q.entries = append(q.entries, e)
	q.byChan[e.ChannelID] = len(q.entries) - 1
}

// SweepExpired drops entries that have waited longer than the configured
// TTL, so an abandoned browser tab doesn't occupy the queue forever.
func (q *Queue) SweepExpired() []Entry {
	q.lock()
	defer q.unlock()

	cutoff := time.Now().Add(-q.ttl)
	var expired []Entry
	for _, e := range q.entries {
		if e.QueuedAt.Before(cutoff) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		q.removeLocked(e.ChannelID)
		q.audit(e, "expired")
	}
	return expired
}

// Entries returns a snapshot of every currently queued entry, used by the
// transport adapter to notify waiting clients on shutdown.
func (q *Queue) Entries() []Entry {
	q.lock()
	defer q.unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len reports the number of entries currently queued.
func (q *Queue) Len() int {
	q.lock()
	defer q.unlock()
	return len(q.entries)
}

// audit is fire-and-forget: failures are logged, never surfaced, and the
// table is never read back into a live matchmaking decision.
func (q *Queue) audit(e Entry, event string) {
	if q.database == nil {
		return
	}
	go func() {
		row := models.MatchmakingLogEntry{
			EntryID:    e.ID,
			ChannelID:  e.ChannelID,
			UserID:     e.UserID,
			Difficulty: string(e.Difficulty),
			Event:      event,
			CreatedAt:  time.Now(),
		}
		if err := q.database.Create(&row).Error; err != nil {
			log.Printf("[MATCHMAKING] audit log write failed: %v", err)
		}
	}()
}
