package matrix

import (
	"fmt"
	"slices"
	"strings"
)

// Cell is one coordinate tuple of an expanded matrix: one value per axis, in axis order.
type Cell struct {
	// Index is the position of the cell in row-major enumeration.
	Index  int
	names  []string
	values []string
}

// NewCell builds a cell directly from parallel name and value lists.
// It is mostly useful in tests; Expand is the normal way to obtain cells.
func NewCell(index int, names, values []string) Cell {
	return Cell{Index: index, names: slices.Clone(names), values: slices.Clone(values)}
}

// Values returns the coordinate values in axis order.
func (c Cell) Values() []string {
	return slices.Clone(c.values)
}

// Names returns the axis names in axis order.
func (c Cell) Names() []string {
	return slices.Clone(c.names)
}

// Value returns the value for the named axis.
func (c Cell) Value(name string) (string, bool) {
	i := slices.Index(c.names, name)
	if i < 0 {
		return "", false
	}
	return c.values[i], true
}

// Env returns the environment overrides for the cell, axis name to value.
func (c Cell) Env() map[string]string {
	env := make(map[string]string, len(c.names))
	for i, name := range c.names {
		env[name] = c.values[i]
	}
	return env
}

// Key is a stable identity for the cell, e.g. "GOOS=linux,GOARCH=arm64".
func (c Cell) Key() string {
	parts := make([]string, len(c.names))
	for i, name := range c.names {
		parts[i] = name + "=" + c.values[i]
	}
	return strings.Join(parts, ",")
}

// Equal reports whether both cells have the same coordinates.
func (c Cell) Equal(o Cell) bool {
	return slices.Equal(c.names, o.names) && slices.Equal(c.values, o.values)
}

func (c Cell) String() string {
	return fmt.Sprintf("(%s)", strings.Join(c.values, ", "))
}
