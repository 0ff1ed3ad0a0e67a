package util

import (
	"golang.org/x/exp/constraints"
)

// Product multiplies all values together. The product of no values is 1.
func Product[T constraints.Integer](values ...T) T {
	var p T = 1
	for _, v := range values {
		p *= v
	}
	return p
}
