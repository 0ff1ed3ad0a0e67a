package orchestrator

import (
	"fmt"

	"github.com/aifoundry-org/multibuild/pkg/matrix"
)

// Entry is one path of an OutputTree with the cell that produced it.
type Entry[D any] struct {
	Path string
	Cell matrix.Cell
	Dir  D
}

// OutputTree maps output paths to directory handles. Entries keep insertion order, which Run
// makes equal to matrix enumeration order.
type OutputTree[D any] struct {
	entries []Entry[D]
	index   map[string]int
}

func NewOutputTree[D any]() *OutputTree[D] {
	return &OutputTree[D]{index: make(map[string]int)}
}

// Add inserts a directory at path. A path can only be added once.
func (t *OutputTree[D]) Add(path string, cell matrix.Cell, dir D) error {
	if prev, ok := t.index[path]; ok {
		if t.entries[prev].Cell.Equal(cell) {
			return fmt.Errorf("output of %s already added at %q", cell, path)
		}
		return fmt.Errorf("path %q already holds the output of %s", path, t.entries[prev].Cell)
	}
	t.index[path] = len(t.entries)
	t.entries = append(t.entries, Entry[D]{Path: path, Cell: cell, Dir: dir})
	return nil
}

func (t *OutputTree[D]) Get(path string) (D, bool) {
	i, ok := t.index[path]
	if !ok {
		var zero D
		return zero, false
	}
	return t.entries[i].Dir, true
}

func (t *OutputTree[D]) Len() int {
	return len(t.entries)
}

func (t *OutputTree[D]) Paths() []string {
	paths := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		paths = append(paths, e.Path)
	}
	return paths
}

func (t *OutputTree[D]) Entries() []Entry[D] {
	return append([]Entry[D](nil), t.entries...)
}
