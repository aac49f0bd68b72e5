package proc

import (
	"os"
	"sync"
)

// tableShards is the number of independently locked PID table shards.
const tableShards = 32

// pidRecord tracks one child from start to reaping. The record mutex is the
// per-entry critical section coordinating the reaper's status deposit with
// Handle registration and release.
type pidRecord struct {
	mu      sync.Mutex
	pid     int
	process *os.Process
	handle  *Handle
	exited  bool
	status  int
}

// pidTable is a sharded concurrent map of live child records.
type pidTable struct {
	shards [tableShards]tableShard
}

type tableShard struct {
	mu      sync.Mutex
	records map[int]*pidRecord
}

func newPIDTable() *pidTable {
	t := &pidTable{}
	for i := range t.shards {
		t.shards[i].records = make(map[int]*pidRecord)
	}
	return t
}

func (t *pidTable) shard(pid int) *tableShard {
	return &t.shards[pid&(tableShards-1)]
}

func (t *pidTable) put(r *pidRecord) {
	s := t.shard(r.pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.pid] = r
}

func (t *pidTable) get(pid int) *pidRecord {
	s := t.shard(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[pid]
}

func (t *pidTable) remove(pid int) {
	s := t.shard(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, pid)
}

// size returns the number of tracked children.
func (t *pidTable) size() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	return n
}

// snapshot returns the current records, for shutdown sweeps.
func (t *pidTable) snapshot() []*pidRecord {
	var out []*pidRecord
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, r := range s.records {
			out = append(out, r)
		}
		s.mu.Unlock()
	}
	return out
}
