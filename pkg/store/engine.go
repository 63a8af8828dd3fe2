// Package store implements the storage engine: the orchestrator that ties
// the write-ahead log, memtable, SSTables and manifest into a single
// ordered key-value store. Every public method takes the engine's one
// mutex for its whole duration, and the internal "Locked" methods it
// calls assume that mutex is already held, so the whole engine — including
// flush and compaction — is serialized behind a single critical section,
// and the internal methods are free to call each other without risk of
// self-deadlock.
package store

import (
	"bytes"
	"container/heap"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"lsmkv/pkg/clock"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/encoding"
	"lsmkv/pkg/manifest"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/sstable"
	"lsmkv/pkg/types"
	"lsmkv/pkg/wal"
)

// Engine is an embeddable, crash-safe, ordered key-value store.
type Engine struct {
	mu sync.Mutex

	dataDir             string
	memtableSize        int
	compactionThreshold int
	log                 *slog.Logger

	memtable *memtable.Memtable
	wal      *wal.WAL
	manifest *manifest.Manifest
	seq      *clock.AtomicClock

	// readers holds one open *sstable.Reader per live generation, the
	// engine's live list of SSTable readers. A reader is opened once, on
	// first use, and kept open until its generation is superseded by
	// compaction or the engine closes — Get and GetRange never pay an
	// open/close syscall pair per call.
	readers map[uint64]*sstable.Reader

	closed bool
}

// Options configures a new Engine. Zero values fall back to the defaults
// in pkg/config.
type Options struct {
	MemtableSize        int
	CompactionThreshold int
	Logger              *slog.Logger
}

const (
	defaultMemtableSize        = 1000
	defaultCompactionThreshold = 10
)

// Open creates dataDir if it does not exist, recovers any state left by a
// previous run (replaying the WAL into a fresh memtable and scanning for
// live SSTables), and returns a ready-to-use Engine.
func Open(dataDir string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	memtableSize := opts.MemtableSize
	if memtableSize <= 0 {
		memtableSize = defaultMemtableSize
	}
	compactionThreshold := opts.CompactionThreshold
	if compactionThreshold <= 0 {
		compactionThreshold = defaultCompactionThreshold
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	w, err := wal.New(dataDir)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	mf, err := manifest.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("store: open manifest: %w", err)
	}

	e := &Engine{
		dataDir:             dataDir,
		memtableSize:        memtableSize,
		compactionThreshold: compactionThreshold,
		log:                 log,
		memtable:            memtable.New(),
		wal:                 w,
		manifest:            mf,
		seq:                 clock.NewAtomic(0),
		readers:             make(map[uint64]*sstable.Reader),
	}

	e.mu.Lock()
	err = e.recover()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return e, nil
}

// recover replays the WAL into the fresh memtable and advances the
// sequence clock past the highest sequence number seen anywhere on disk.
// It runs once, before the engine is visible to callers; Open calls it
// with e.mu held.
func (e *Engine) recover() error {
	var maxSeq uint64

	err := e.wal.Replay(func(entry wal.Entry) error {
		switch entry.Op {
		case encoding.OpPut:
			e.memtable.Put(entry.Key, entry.Value, entry.SeqNum)
		default:
			e.memtable.Delete(entry.Key, entry.SeqNum)
		}
		if entry.SeqNum > maxSeq {
			maxSeq = entry.SeqNum
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: replay wal: %v", dberrors.ErrDurability, err)
	}

	for _, gen := range e.manifest.Generations() {
		r, err := e.readerFor(gen)
		if err != nil {
			return fmt.Errorf("store: recover: %w", err)
		}
		entries, err := r.All()
		if err != nil {
			return fmt.Errorf("store: recover: %w", err)
		}
		for _, entry := range entries {
			if entry.SeqNum > maxSeq {
				maxSeq = entry.SeqNum
			}
		}
	}

	e.seq.Set(maxSeq)
	e.log.Info("recovered", "memtable_entries", e.memtable.Len(), "live_sstables", len(e.manifest.Generations()))
	return nil
}

// readerFor returns the cached reader for generation, opening and caching
// it on first use.
func (e *Engine) readerFor(gen uint64) (*sstable.Reader, error) {
	if r, ok := e.readers[gen]; ok {
		return r, nil
	}
	r, err := sstable.Open(e.manifest.Path(gen), gen)
	if err != nil {
		return nil, err
	}
	e.readers[gen] = r
	return r, nil
}

// closeReader closes and evicts generation's cached reader, if any. Called
// once a generation has been superseded by compaction.
func (e *Engine) closeReader(gen uint64) error {
	r, ok := e.readers[gen]
	if !ok {
		return nil
	}
	delete(e.readers, gen)
	return r.Close()
}

// Put writes key/value, replacing any prior value for key.
func (e *Engine) Put(key types.Key, value types.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.putLocked(key, value)
}

func (e *Engine) putLocked(key types.Key, value types.Value) error {
	if e.closed {
		return dberrors.ErrClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", dberrors.ErrInvalidArgument)
	}

	seq := e.seq.Next()
	if err := e.wal.AppendPut(key, value, seq); err != nil {
		return fmt.Errorf("%w: %v", dberrors.ErrDurability, err)
	}
	e.memtable.Put(key, value, seq)

	return e.maybeFlushLocked()
}

// Delete records a tombstone for key. It is not an error to delete an
// absent key.
func (e *Engine) Delete(key types.Key) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteLocked(key)
}

func (e *Engine) deleteLocked(key types.Key) error {
	if e.closed {
		return dberrors.ErrClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", dberrors.ErrInvalidArgument)
	}

	seq := e.seq.Next()
	if err := e.wal.AppendDelete(key, seq); err != nil {
		return fmt.Errorf("%w: %v", dberrors.ErrDurability, err)
	}
	e.memtable.Delete(key, seq)

	return e.maybeFlushLocked()
}

// BatchPut writes every key/value pair as a single sequence of WAL
// records. All keys and values are validated before the first WAL append,
// so an invalid batch writes nothing. If a write fails partway through,
// the pairs written before it stay written; there is no rollback.
func (e *Engine) BatchPut(keys []types.Key, values []types.Value) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return dberrors.ErrClosed
	}
	if len(keys) != len(values) {
		return fmt.Errorf("%w: batch_put: %d keys but %d values", dberrors.ErrInvalidArgument, len(keys), len(values))
	}
	for _, k := range keys {
		if len(k) == 0 {
			return fmt.Errorf("%w: empty key", dberrors.ErrInvalidArgument)
		}
	}

	for i := range keys {
		if err := e.putLocked(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up key, consulting the memtable before any SSTable, newest
// SSTable generation first. It returns dberrors.ErrNotFound if key is
// absent or has been deleted.
func (e *Engine) Get(key types.Key) (types.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getLocked(key)
}

func (e *Engine) getLocked(key types.Key) (types.Value, error) {
	if e.closed {
		return nil, dberrors.ErrClosed
	}

	if item, ok := e.memtable.Get(key); ok {
		if item.Tombstone {
			return nil, dberrors.ErrNotFound
		}
		return item.Value, nil
	}

	for _, gen := range e.manifest.Generations() {
		r, err := e.readerFor(gen)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		entry, found, err := r.Get(key)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		if found {
			if entry.Tombstone {
				return nil, dberrors.ErrNotFound
			}
			return entry.Value, nil
		}
	}

	return nil, dberrors.ErrNotFound
}

// GetRange returns every live key in [start, end], ascending, merging the
// memtable with every live SSTable. Tombstoned keys are never returned.
func (e *Engine) GetRange(start, end types.Key) ([]KV, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getRangeLocked(start, end)
}

// KV is a single key/value pair returned by GetRange.
type KV struct {
	Key   types.Key
	Value types.Value
}

func (e *Engine) getRangeLocked(start, end types.Key) ([]KV, error) {
	if e.closed {
		return nil, dberrors.ErrClosed
	}
	if bytes.Compare(start, end) > 0 {
		return nil, nil
	}

	var sources []mergeSource

	memEntries := e.memtable.IterSorted()
	memSource := make([]mergeEntry, 0, len(memEntries))
	for _, it := range memEntries {
		if bytes.Compare(it.Key, start) < 0 || bytes.Compare(it.Key, end) > 0 {
			continue
		}
		memSource = append(memSource, mergeEntry{key: it.Key, value: it.Value, tombstone: it.Tombstone})
	}
	sources = append(sources, mergeSource{entries: memSource, rank: len(e.manifest.Generations()) + 1})

	generations := e.manifest.Generations()

	for i, gen := range generations {
		r, err := e.readerFor(gen)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}

		tableEntries, err := r.Range(start, end)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		entries := make([]mergeEntry, len(tableEntries))
		for j, te := range tableEntries {
			entries[j] = mergeEntry{key: te.Key, value: te.Value, tombstone: te.Tombstone}
		}
		// Newest generation (index 0, highest number) must win ties, so
		// it gets the highest rank.
		sources = append(sources, mergeSource{entries: entries, rank: len(generations) - i})
	}

	return mergeSources(sources), nil
}

// maybeFlushLocked flushes the memtable to a new SSTable once it has
// reached the configured entry threshold.
func (e *Engine) maybeFlushLocked() error {
	if e.memtable.Len() < e.memtableSize {
		return nil
	}
	return e.flushLocked()
}

// flushLocked writes the current memtable out as a new, immutable
// SSTable, installs it, and truncates the WAL it superseded. It then
// triggers compaction if the live SSTable count has crossed the
// configured threshold.
func (e *Engine) flushLocked() error {
	items := e.memtable.IterSorted()
	if len(items) == 0 {
		return nil
	}

	gen := e.manifest.NextGeneration()
	w, err := sstable.NewWriter(e.dataDir, gen)
	if err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}
	for _, it := range items {
		if err := w.Add(sstable.Entry{Key: it.Key, Value: it.Value, SeqNum: it.SeqNum, Tombstone: it.Tombstone}); err != nil {
			_ = w.Discard()
			return fmt.Errorf("store: flush: %w", err)
		}
	}
	if _, err := w.Finish(); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}

	e.manifest.Install(gen)
	e.memtable.Clear()

	if err := e.wal.Truncate(); err != nil {
		return fmt.Errorf("%w: truncate wal after flush: %v", dberrors.ErrDurability, err)
	}

	e.log.Info("flushed memtable", "generation", gen, "entries", len(items))

	if len(e.manifest.Generations()) > e.compactionThreshold {
		return e.compactLocked()
	}
	return nil
}

// compactLocked merges every live SSTable into a single new one, dropping
// tombstones — safe only because this compaction always covers the full
// live set, so no older SSTable beneath a dropped tombstone can resurface
// a stale value. It then removes the superseded files.
func (e *Engine) compactLocked() error {
	generations := e.manifest.Generations()
	if len(generations) < 2 {
		return nil
	}

	var sources []mergeSource

	for i, gen := range generations {
		r, err := e.readerFor(gen)
		if err != nil {
			return fmt.Errorf("store: compact: %w", err)
		}

		all, err := r.All()
		if err != nil {
			return fmt.Errorf("store: compact: %w", err)
		}
		entries := make([]mergeEntry, len(all))
		for j, a := range all {
			entries[j] = mergeEntry{key: a.Key, value: a.Value, tombstone: a.Tombstone, seq: a.SeqNum}
		}
		sources = append(sources, mergeSource{entries: entries, rank: len(generations) - i})
	}

	merged := mergeKWay(sources)

	newGen := e.manifest.NextGeneration()
	w, err := sstable.NewWriter(e.dataDir, newGen)
	if err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	for _, kv := range merged {
		if err := w.Add(sstable.Entry{Key: kv.key, Value: kv.value, SeqNum: kv.seq}); err != nil {
			_ = w.Discard()
			return fmt.Errorf("store: compact: %w", err)
		}
	}
	if _, err := w.Finish(); err != nil {
		return fmt.Errorf("store: compact: %w", err)
	}
	e.manifest.Install(newGen)

	for _, gen := range generations {
		if err := e.closeReader(gen); err != nil {
			return fmt.Errorf("store: compact: %w", err)
		}
		if err := e.manifest.Remove(gen); err != nil {
			return fmt.Errorf("store: compact: %w", err)
		}
	}

	e.log.Info("compacted", "merged_generations", len(generations), "new_generation", newGen, "entries", len(merged))
	return nil
}

// Close flushes any unwritten memtable entries, then releases the WAL
// handle. It is safe to call once; any operation issued afterward returns
// dberrors.ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	if e.memtable.Len() > 0 {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	for gen, r := range e.readers {
		if err := r.Close(); err != nil {
			return fmt.Errorf("store: close: close sstable %d: %w", gen, err)
		}
	}
	e.readers = nil
	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}

	e.closed = true
	return nil
}

// Stats is a point-in-time snapshot of engine statistics, exposed to
// operators over the admin HTTP surface.
type Stats struct {
	MemtableEntries int    `json:"memtable_entries"`
	LiveSSTables    int    `json:"live_sstables"`
	NextSeqNum      uint64 `json:"next_seq_num"`
}

// Stats returns a snapshot of the engine's current statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		MemtableEntries: e.memtable.Len(),
		LiveSSTables:    len(e.manifest.Generations()),
		NextSeqNum:      e.seq.Val() + 1,
	}
}

// Health is a point-in-time liveness snapshot, exposed over /healthz.
type Health struct {
	Open    bool   `json:"open"`
	DataDir string `json:"data_dir"`
}

// Health reports whether the engine is still open and where its files live.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Health{Open: !e.closed, DataDir: e.dataDir}
}

type mergeEntry struct {
	key       types.Key
	value     types.Value
	tombstone bool
	seq       uint64
}

type mergeSource struct {
	entries []mergeEntry
	pos     int
	// rank orders sources by recency: a higher rank wins ties on equal
	// keys. The memtable always has the highest rank; among SSTables, the
	// newest generation ranks above older ones.
	rank int
}

// heapItem is one candidate entry in the k-way merge's min-heap, tagged
// with which source it came from so the heap can advance that source
// after popping.
type heapItem struct {
	entry      mergeEntry
	sourceIdx  int
	sourceRank int
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].entry.key, h[j].entry.key)
	if c != 0 {
		return c < 0
	}
	return h[i].sourceRank > h[j].sourceRank
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSources performs a k-way merge across sources, already each sorted
// ascending by key, keeping only the highest-rank entry for each distinct
// key and dropping any key whose winning entry is a tombstone.
func mergeSources(sources []mergeSource) []KV {
	merged := mergeKWay(sources)
	out := make([]KV, len(merged))
	for i, e := range merged {
		out[i] = KV{Key: e.key, Value: e.value}
	}
	return out
}

// mergeKWay merges sources into winner-per-key order, dropping every key
// whose highest-rank entry is a tombstone.
func mergeKWay(sources []mergeSource) []mergeEntry {
	out := []mergeEntry{}
	h := buildHeap(sources)
	var lastKey []byte
	haveLast := false

	for h.Len() > 0 {
		top := heap.Pop(h).(heapItem)
		advance(h, sources, top.sourceIdx)

		if haveLast && bytes.Equal(top.entry.key, lastKey) {
			continue
		}
		lastKey = top.entry.key
		haveLast = true

		if top.entry.tombstone {
			continue
		}
		out = append(out, top.entry)
	}
	return out
}

func buildHeap(sources []mergeSource) *mergeHeap {
	h := &mergeHeap{}
	heap.Init(h)
	for i := range sources {
		if sources[i].pos < len(sources[i].entries) {
			heap.Push(h, heapItem{entry: sources[i].entries[sources[i].pos], sourceIdx: i, sourceRank: sources[i].rank})
		}
	}
	return h
}

func advance(h *mergeHeap, sources []mergeSource, sourceIdx int) {
	sources[sourceIdx].pos++
	if sources[sourceIdx].pos < len(sources[sourceIdx].entries) {
		heap.Push(h, heapItem{
			entry:      sources[sourceIdx].entries[sources[sourceIdx].pos],
			sourceIdx:  sourceIdx,
			sourceRank: sources[sourceIdx].rank,
		})
	}
}
