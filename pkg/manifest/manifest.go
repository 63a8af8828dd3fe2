// Package manifest tracks which SSTable generations are currently live.
// There is no separate manifest file on disk: the set of live generations
// is reconstructed at open time by scanning the data directory for
// sstable_<generation>.dat filenames, so installing or removing a table is
// just a filesystem rename/remove with nothing else to keep in sync.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/zhangyunhao116/skipset"
)

var fileNamePattern = regexp.MustCompile(`^sstable_(\d+)\.dat$`)

// Manifest holds the set of live SSTable generations for a data directory,
// newest first.
type Manifest struct {
	dir  string
	live *skipset.Uint64Set
}

// Open scans dir for sstable_<generation>.dat files and returns a Manifest
// tracking them. Any *.tmp-* file left behind by a crash mid-flush or
// mid-compaction is ignored; it was never installed, so it was never live.
func Open(dir string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", dir, err)
	}

	m := &Manifest{dir: dir, live: skipset.NewUint64()}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		gen, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			continue
		}
		m.live.Add(gen)
	}
	return m, nil
}

// Generations returns every live generation, newest (highest) first.
func (m *Manifest) Generations() []uint64 {
	// Uint64Set.Range already visits the skip list in ascending order, so
	// reversing it into out is cheaper than re-sorting.
	out := make([]uint64, 0, m.live.Len())
	m.live.Range(func(gen uint64) bool {
		out = append(out, gen)
		return true
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// NextGeneration returns the generation number the next flush or
// compaction should use: one past the highest live generation, or 0 if the
// directory holds none.
func (m *Manifest) NextGeneration() uint64 {
	var max uint64
	any := false
	m.live.Range(func(gen uint64) bool {
		any = true
		if gen > max {
			max = gen
		}
		return true
	})
	if !any {
		return 0
	}
	return max + 1
}

// Install records generation as live. The caller must have already
// installed the corresponding sstable_<generation>.dat file via
// sstable.Writer.Finish before calling this.
func (m *Manifest) Install(generation uint64) {
	m.live.Add(generation)
}

// Remove drops generation from the live set and deletes its file. Called
// after compaction has installed the replacement table that supersedes it.
func (m *Manifest) Remove(generation uint64) error {
	m.live.Remove(generation)
	path := filepath.Join(m.dir, fmt.Sprintf("sstable_%d.dat", generation))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("manifest: remove %s: %w", path, err)
	}
	return nil
}

// Path returns the on-disk path for generation's SSTable file.
func (m *Manifest) Path(generation uint64) string {
	return filepath.Join(m.dir, fmt.Sprintf("sstable_%d.dat", generation))
}
