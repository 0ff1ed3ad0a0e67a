// Package matrix models a build matrix: named axes of string values whose cross product
// defines the set of cells to build.
package matrix

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aifoundry-org/multibuild/pkg/util"
)

// Common axis names. An axis name is also the environment variable its value is applied to.
const (
	AxisOS        = "GOOS"
	AxisArch      = "GOARCH"
	AxisGoVersion = "GOVERSION"
)

// Axis is one dimension of the matrix.
type Axis struct {
	Name   string   `json:"name" toml:"name"`
	Values []string `json:"values" toml:"values"`
}

// Matrix is an ordered list of axes.
type Matrix struct {
	Axes []Axis `json:"axes"`
}

// New builds a matrix from the given axes.
func New(axes ...Axis) Matrix {
	return Matrix{Axes: axes}
}

// Validate checks that there is at least one axis, that every axis has a unique non-empty
// name and at least one value. Values end up as output path elements, so "", "." and ".."
// are rejected.
func (m Matrix) Validate() error {
	if len(m.Axes) == 0 {
		return NewInvalidMatrixError("matrix has no axes")
	}
	seen := make(map[string]bool, len(m.Axes))
	for i, axis := range m.Axes {
		if axis.Name == "" {
			return NewInvalidMatrixError(fmt.Sprintf("axis %d has no name", i))
		}
		if seen[axis.Name] {
			return NewInvalidMatrixError(fmt.Sprintf("axis %q declared more than once", axis.Name))
		}
		seen[axis.Name] = true
		if len(axis.Values) == 0 {
			return NewInvalidMatrixError(fmt.Sprintf("axis %q has no values", axis.Name))
		}
		for _, v := range axis.Values {
			switch v {
			case "", ".", "..":
				return NewInvalidMatrixError(fmt.Sprintf("axis %q has invalid value %q", axis.Name, v))
			}
		}
	}
	return nil
}

// Size is the number of cells the matrix expands to.
func (m Matrix) Size() int {
	lengths := make([]int, 0, len(m.Axes))
	for _, axis := range m.Axes {
		lengths = append(lengths, len(axis.Values))
	}
	if len(lengths) == 0 {
		return 0
	}
	return util.Product(lengths...)
}

// Names returns the axis names in declaration order.
func (m Matrix) Names() []string {
	names := make([]string, 0, len(m.Axes))
	for _, axis := range m.Axes {
		names = append(names, axis.Name)
	}
	return names
}

// Has reports whether the matrix declares an axis with the given name.
func (m Matrix) Has(name string) bool {
	return slices.ContainsFunc(m.Axes, func(a Axis) bool { return a.Name == name })
}

func (m Matrix) String() string {
	parts := make([]string, 0, len(m.Axes))
	for _, axis := range m.Axes {
		parts = append(parts, fmt.Sprintf("%s=[%s]", axis.Name, strings.Join(axis.Values, ",")))
	}
	return strings.Join(parts, " x ")
}

// Expand produces the cross product of the axes in declaration order, with the last axis
// varying fastest. Cells are numbered by their position in that enumeration.
func Expand(m Matrix) ([]Cell, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	// take our own copy, callers may reuse their slices
	names := m.Names()
	axes := make([][]string, len(m.Axes))
	for i, axis := range m.Axes {
		axes[i] = slices.Clone(axis.Values)
	}

	total := m.Size()
	cells := make([]Cell, 0, total)
	idx := make([]int, len(axes))
	for n := 0; n < total; n++ {
		values := make([]string, len(axes))
		for i := range axes {
			values[i] = axes[i][idx[i]]
		}
		cells = append(cells, Cell{Index: n, names: names, values: values})

		// odometer increment, last axis first
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i]) {
				break
			}
			idx[i] = 0
		}
	}
	return cells, nil
}
