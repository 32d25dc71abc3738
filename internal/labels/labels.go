// Package labels holds the resin classes the network was trained on.
//
// The order of the classes is the order of the network's output vector. Every
// shell resolves output indices through this package; nothing else declares
// the list.
package labels

import (
	"fmt"
	"strings"
)

type ClassLabel string

const (
	PC  ClassLabel = "PC"
	PE  ClassLabel = "PE"
	PET ClassLabel = "PET"
	PP  ClassLabel = "PP"
	PS  ClassLabel = "PS"
)

var ordered = [...]ClassLabel{PC, PE, PET, PP, PS}

// All returns the classes in output-vector order. The slice is a copy.
func All() []ClassLabel {
	out := make([]ClassLabel, len(ordered))
	copy(out, ordered[:])
	return out
}

// Strings returns the class names in output-vector order.
func Strings() []string {
	out := make([]string, len(ordered))
	for i, l := range ordered {
		out[i] = string(l)
	}
	return out
}

func Count() int {
	return len(ordered)
}

// FromIndex maps an output index to its class.
func FromIndex(i int) (ClassLabel, bool) {
	if i < 0 || i >= len(ordered) {
		return "", false
	}
	return ordered[i], true
}

func (l ClassLabel) Valid() bool {
	for _, o := range ordered {
		if o == l {
			return true
		}
	}
	return false
}

func (l ClassLabel) String() string {
	return string(l)
}

// VerifyOrder checks that names lists exactly the known classes in output order.
func VerifyOrder(names []string) error {
	if len(names) != len(ordered) {
		return fmt.Errorf("expected %d classes %v, got %d %v", len(ordered), Strings(), len(names), names)
	}
	for i, n := range names {
		if !strings.EqualFold(strings.TrimSpace(n), string(ordered[i])) {
			return fmt.Errorf("class %d is %q, expected %q (order %v)", i, n, ordered[i], Strings())
		}
	}
	return nil
}
