// Package names maps hashed parameter identifiers to readable names.
//
// Parameter trees store most keys as CRC32 hashes of their names. A Table
// resolves those hashes for display only; the stored hash is never changed,
// so which name a hash resolves to cannot affect the binary encoding.
package names

import (
	"bufio"
	_ "embed"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"sync"
)

//go:embed default_names.txt
var defaultNames string

const (
	// PlaceholderCount is the number of synthetic File_<i> names added on
	// population.
	PlaceholderCount = 10000

	placeholderPrefix = "File_"
)

// Hash returns the identifier a name is stored as.
func Hash(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

// Table is a hash to name registry. The zero value is an empty, usable table.
//
// EnsurePopulated seeds the table exactly once; concurrent callers block until
// the first population completes and never observe a partial table.
type Table struct {
	once  sync.Once
	mu    sync.RWMutex
	names map[uint32]string
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

var (
	defaultTable     *Table
	defaultTableOnce sync.Once
)

// Default returns a process-wide table for callers that do not inject one.
// It is not populated until EnsurePopulated is called on it.
func Default() *Table {
	defaultTableOnce.Do(func() {
		defaultTable = New()
	})
	return defaultTable
}

// EnsurePopulated seeds the table with the built-in names and the File_<i>
// placeholders. It is idempotent and safe for concurrent use.
func (t *Table) EnsurePopulated() {
	t.once.Do(func() {
		seeded := make(map[uint32]string, PlaceholderCount+512)

		sc := bufio.NewScanner(strings.NewReader(defaultNames))
		for sc.Scan() {
			name := strings.TrimSpace(sc.Text())
			if name == "" || strings.HasPrefix(name, "#") {
				continue
			}
			addName(seeded, name)
		}

		for i := 0; i < PlaceholderCount; i++ {
			addName(seeded, placeholderPrefix+strconv.Itoa(i))
		}

		t.mu.Lock()
		for h, name := range t.names {
			seeded[h] = name
		}
		t.names = seeded
		t.mu.Unlock()
	})
}

// first name wins so population order is stable
func addName(m map[uint32]string, name string) {
	h := Hash(name)
	if _, ok := m[h]; !ok {
		m[h] = name
	}
}

// Add registers a name. Names added before population take precedence over
// built-in names with the same hash.
func (t *Table) Add(name string) uint32 {
	h := Hash(name)
	t.mu.Lock()
	if t.names == nil {
		t.names = make(map[uint32]string)
	}
	if _, ok := t.names[h]; !ok {
		t.names[h] = name
	}
	t.mu.Unlock()
	return h
}

// Resolve looks up the name for a hash.
func (t *Table) Resolve(hash uint32) (string, bool) {
	t.mu.RLock()
	name, ok := t.names[hash]
	t.mu.RUnlock()
	return name, ok
}

// Display returns the resolved name, or the decimal hash when there is none.
func (t *Table) Display(hash uint32) string {
	if name, ok := t.Resolve(hash); ok {
		return name
	}
	return strconv.FormatUint(uint64(hash), 10)
}

// Len returns the number of names in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

// String returns a short summary of the table.
func (t *Table) String() string {
	return fmt.Sprintf("NameTable[%d names]", t.Len())
}
