package comm

import (
	"time"
)

// streamKey identifies one logical conversation: a (channel, distribution
// scope, sender) triple. Two senders interleaving multipart messages on
// the same channel reassemble independently.
type streamKey struct {
	channel string
	scope   string
	sender  string
}

// stream accumulates partial payloads for one in-flight multipart message.
// Created by FIRST, extended by NEXT, consumed by LAST.
type stream struct {
	parts    [][]byte
	lastSeen time.Time
}

func (st *stream) size() int {
	n := 0
	for _, p := range st.parts {
		n += len(p)
	}
	return n
}

// handleFirst opens a stream, superseding any stale one under the same
// key: a new FIRST always wins, on the assumption the old stream was
// abandoned.
func (m *Messenger) handleFirst(key streamKey, chunk []byte, now time.Time) {
	m.mu.Lock()
	if old, ok := m.streams[key]; ok {
		m.log.StreamEvicted(key.channel, key.sender, now.Sub(old.lastSeen), "superseded")
		if m.metrics != nil {
			m.metrics.RecordStreamEvicted()
		}
		delete(m.streams, key)
	} else if len(m.streams) >= m.cfg.MaxStreams {
		m.evictOldestLocked(now)
	}
	m.streams[key] = &stream{parts: [][]byte{cloneBytes(chunk)}, lastSeen: now}
	m.setStreamsGaugeLocked()
	m.mu.Unlock()
}

// handleNext appends a continuation chunk. Orphans are dropped silently:
// the stream may have completed already via a duplicate delivery.
func (m *Messenger) handleNext(key streamKey, chunk []byte, now time.Time) {
	m.mu.Lock()
	st, ok := m.streams[key]
	if !ok {
		m.mu.Unlock()
		m.recordOrphan()
		return
	}
	st.parts = append(st.parts, cloneBytes(chunk))
	st.lastSeen = now
	m.mu.Unlock()
}

// handleLast closes a stream and returns the reassembled payload, or
// ok=false for an orphan.
func (m *Messenger) handleLast(key streamKey, chunk []byte, now time.Time) (payload []byte, parts int, ok bool) {
	m.mu.Lock()
	st, found := m.streams[key]
	if !found {
		m.mu.Unlock()
		m.recordOrphan()
		return nil, 0, false
	}
	delete(m.streams, key)
	m.setStreamsGaugeLocked()
	m.mu.Unlock()

	payload = make([]byte, 0, st.size()+len(chunk))
	for _, p := range st.parts {
		payload = append(payload, p...)
	}
	payload = append(payload, chunk...)
	return payload, len(st.parts) + 1, true
}

// evictStale removes streams that have gone quiet for longer than the TTL.
// Called by the janitor; exposed to tests via the returned count.
func (m *Messenger) evictStale(now time.Time) int {
	m.mu.Lock()
	var victims []streamKey
	for key, st := range m.streams {
		if now.Sub(st.lastSeen) > m.cfg.ReassemblyTTL {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		st := m.streams[key]
		delete(m.streams, key)
		m.log.StreamEvicted(key.channel, key.sender, now.Sub(st.lastSeen), "ttl")
		if m.metrics != nil {
			m.metrics.RecordStreamEvicted()
		}
	}
	m.setStreamsGaugeLocked()
	m.mu.Unlock()
	return len(victims)
}

// evictOldestLocked makes room for a new stream by dropping the one that
// has gone quiet the longest.
func (m *Messenger) evictOldestLocked(now time.Time) {
	var oldest streamKey
	var oldestSeen time.Time
	first := true
	for key, st := range m.streams {
		if first || st.lastSeen.Before(oldestSeen) {
			oldest = key
			oldestSeen = st.lastSeen
			first = false
		}
	}
	if first {
		return
	}
	delete(m.streams, oldest)
	m.log.StreamEvicted(oldest.channel, oldest.sender, now.Sub(oldestSeen), "capacity")
	if m.metrics != nil {
		m.metrics.RecordStreamEvicted()
	}
}

func (m *Messenger) setStreamsGaugeLocked() {
	if m.metrics != nil {
		m.metrics.SetStreamsActive(len(m.streams))
	}
}

func (m *Messenger) recordOrphan() {
	if m.metrics != nil {
		m.metrics.RecordOrphanFrame()
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// janitor periodically sweeps stale streams until Close.
func (m *Messenger) janitor() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.evictStale(now)
		}
	}
}

// StreamCount returns the number of in-flight reassembly streams.
func (m *Messenger) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
