// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package vartype

import "fmt"

// VarFloat64 holds an optional measurement such as the reported accuracy of a position sample.
type VarFloat64 = Variable[float64]

// Variable is a value that may be absent. The zero Variable is unset.
type Variable[T any] struct {
	value T
	isset bool
}

func NewVariable[T any](value T) Variable[T] {
	return Variable[T]{value: value, isset: true}
}

// Value returns the stored value or the zero value of T if unset.
func (v *Variable[T]) Value() T {
	return v.value
}

func (v *Variable[T]) Set(val T) {
	v.value = val
	v.isset = true
}

func (v *Variable[T]) IsSet() bool {
	return v.isset
}

// ValueOr returns the stored value, or fallback if the Variable is not set.
func (v *Variable[T]) ValueOr(fallback T) T {
	if !v.isset {
		return fallback
	}
	return v.value
}

// String returns "n/a" for an unset Variable.
func (v Variable[T]) String() string {
	if !v.isset {
		return "n/a"
	}
	return fmt.Sprint(v.value)
}
