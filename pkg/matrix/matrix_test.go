package matrix

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		matrix   Matrix
		expected [][]string
	}{
		{"single axis", New(Axis{AxisOS, []string{"linux", "darwin"}}), [][]string{
			{"linux"}, {"darwin"},
		}},
		{"os by arch", New(
			Axis{AxisOS, []string{"linux", "darwin"}},
			Axis{AxisArch, []string{"amd64", "arm64"}},
		), [][]string{
			{"linux", "amd64"}, {"linux", "arm64"}, {"darwin", "amd64"}, {"darwin", "arm64"},
		}},
		{"three axes", New(
			Axis{AxisGoVersion, []string{"1.18", "1.19.2"}},
			Axis{AxisOS, []string{"linux"}},
			Axis{AxisArch, []string{"amd64", "arm64", "s390x"}},
		), [][]string{
			{"1.18", "linux", "amd64"}, {"1.18", "linux", "arm64"}, {"1.18", "linux", "s390x"},
			{"1.19.2", "linux", "amd64"}, {"1.19.2", "linux", "arm64"}, {"1.19.2", "linux", "s390x"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells, err := Expand(tt.matrix)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(cells) != tt.matrix.Size() {
				t.Errorf("got %d cells, size says %d", len(cells), tt.matrix.Size())
			}
			var got [][]string
			keys := map[string]bool{}
			for i, c := range cells {
				if c.Index != i {
					t.Errorf("cell %d has index %d", i, c.Index)
				}
				if keys[c.Key()] {
					t.Errorf("duplicate cell %s", c.Key())
				}
				keys[c.Key()] = true
				got = append(got, c.Values())
			}
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("cells mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExpandInvalid(t *testing.T) {
	tests := []struct {
		name   string
		matrix Matrix
	}{
		{"no axes", New()},
		{"empty axis", New(Axis{AxisOS, []string{"linux"}}, Axis{AxisArch, nil})},
		{"unnamed axis", New(Axis{"", []string{"linux"}})},
		{"duplicate axis", New(Axis{AxisOS, []string{"linux"}}, Axis{AxisOS, []string{"darwin"}})},
		{"empty value", New(Axis{AxisOS, []string{"linux", ""}})},
		{"dot value", New(Axis{AxisOS, []string{"linux"}}, Axis{AxisArch, []string{"."}})},
		{"parent value", New(Axis{AxisOS, []string{".."}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells, err := Expand(tt.matrix)
			if err == nil {
				t.Fatalf("expected error, got %d cells", len(cells))
			}
			if !errors.Is(err, ErrInvalidMatrix) {
				t.Errorf("expected ErrInvalidMatrix, got %v", err)
			}
			var target *InvalidMatrixError
			if !errors.As(err, &target) {
				t.Errorf("expected *InvalidMatrixError, got %T", err)
			}
		})
	}
}

func TestExpandDoesNotAlias(t *testing.T) {
	values := []string{"linux", "darwin"}
	m := New(Axis{AxisOS, values})
	cells, err := Expand(m)
	if err != nil {
		t.Fatal(err)
	}
	values[0] = "windows"
	if v, _ := cells[0].Value(AxisOS); v != "linux" {
		t.Errorf("cell changed with caller slice: %s", v)
	}
}

func TestCell(t *testing.T) {
	c := NewCell(3, []string{AxisOS, AxisArch}, []string{"linux", "arm64"})
	if got, want := c.Key(), "GOOS=linux,GOARCH=arm64"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
	if got, want := c.String(), "(linux, arm64)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if diff := cmp.Diff(map[string]string{"GOOS": "linux", "GOARCH": "arm64"}, c.Env()); diff != "" {
		t.Errorf("Env() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.Value(AxisGoVersion); ok {
		t.Error("unexpected value for undeclared axis")
	}
	if !c.Equal(NewCell(0, []string{AxisOS, AxisArch}, []string{"linux", "arm64"})) {
		t.Error("cells with the same coordinates should be equal regardless of index")
	}
	if c.Equal(NewCell(3, []string{AxisOS, AxisArch}, []string{"linux", "amd64"})) {
		t.Error("cells with different coordinates should not be equal")
	}
}

func TestMatrixHelpers(t *testing.T) {
	m := New(Axis{AxisOS, []string{"linux", "darwin"}}, Axis{AxisArch, []string{"amd64", "arm64", "386"}})
	if m.Size() != 6 {
		t.Errorf("Size() = %d, want 6", m.Size())
	}
	if New().Size() != 0 {
		t.Errorf("empty matrix should have size 0")
	}
	if !m.Has(AxisArch) || m.Has(AxisGoVersion) {
		t.Error("Has() returned the wrong answer")
	}
	if got, want := m.String(), "GOOS=[linux,darwin] x GOARCH=[amd64,arm64,386]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
