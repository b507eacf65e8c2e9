// Package fuzz mutates prepared message fields at random and runs campaigns
// comparing the peer's responses against an unmutated baseline.
package fuzz

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"regexp"
	"sync"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/modvar"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// MutationKind is the operation applied to a field
type MutationKind string

const (
	BitFlip  MutationKind = "bit_flip"
	Truncate MutationKind = "truncate"
	Extend   MutationKind = "extend"
	Zero     MutationKind = "zero"
	Random   MutationKind = "random"
	AddDelta MutationKind = "add_delta"
)

var mutationKinds = []MutationKind{BitFlip, Truncate, Extend, Zero, Random, AddDelta}

// weights of mutationKinds, bit flips and deltas keep most of the structure
var defaultWeights = []float64{4, 2, 2, 1, 1, 3}

// Mutation records one modified field
type Mutation struct {
	Field  modvar.Field `cbor:"field" json:"field"`
	Kind   MutationKind `cbor:"kind" json:"kind"`
	Before string       `cbor:"before" json:"before"`
	After  string       `cbor:"after" json:"after"`
}

func (m Mutation) String() string {
	return fmt.Sprintf("%s %s %s->%s", m.Field, m.Kind, m.Before, m.After)
}

// Mutator is a modvar.Hook changing fields at random. It is used for a
// single run.
type Mutator struct {
	rnd        *rand.Rand
	src        rand.Source
	percentage int
	max        int
	whitelist  *regexp.Regexp
	blacklist  *regexp.Regexp
	magnitude  distuv.Poisson

	lock    *sync.Mutex
	applied []Mutation
}

var _ modvar.Hook = &Mutator{}

// NewMutator creates a mutator from the fuzzing config. Runs with the same
// seed mutate the same way.
func NewMutator(c config.FuzzConfig, seed uint64) (*Mutator, error) {
	src := rand.NewSource(seed)
	m := &Mutator{
		rnd:        rand.New(src),
		src:        src,
		percentage: c.Percentage,
		max:        c.MaxMutations,
		magnitude:  distuv.Poisson{Lambda: 1.5, Src: src},
		lock:       new(sync.Mutex),
		applied:    make([]Mutation, 0),
	}
	var err error
	if c.Whitelist != "" {
		if m.whitelist, err = regexp.Compile(c.Whitelist); err != nil {
			return nil, fmt.Errorf("invalid whitelist: %w", err)
		}
	}
	if c.Blacklist != "" {
		if m.blacklist, err = regexp.Compile(c.Blacklist); err != nil {
			return nil, fmt.Errorf("invalid blacklist: %w", err)
		}
	}
	return m, nil
}

// Applied returns the mutations of the run so far
func (m *Mutator) Applied() []Mutation {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make([]Mutation, len(m.applied))
	copy(out, m.applied)
	return out
}

func (m *Mutator) allowed(f modvar.Field) bool {
	if m.whitelist != nil && !m.whitelist.MatchString(string(f)) {
		return false
	}
	if m.blacklist != nil && m.blacklist.MatchString(string(f)) {
		return false
	}
	return true
}

// pick decides whether f is mutated now and how
func (m *Mutator) pick(f modvar.Field) (MutationKind, bool) {
	if m.max > 0 && len(m.applied) >= m.max {
		return "", false
	}
	if !m.allowed(f) {
		return "", false
	}
	if m.percentage <= m.rnd.Intn(100) {
		return "", false
	}
	idx, ok := sampleuv.NewWeighted(defaultWeights, m.src).Take()
	if !ok {
		return "", false
	}
	return mutationKinds[idx], true
}

// amount is at least one
func (m *Mutator) amount() int {
	return 1 + int(m.magnitude.Rand())
}

func (m *Mutator) ApplyBytes(f modvar.Field, natural []byte) []byte {
	m.lock.Lock()
	defer m.lock.Unlock()
	kind, ok := m.pick(f)
	if !ok {
		return natural
	}
	out := m.mutateBytes(kind, natural)
	m.applied = append(m.applied, Mutation{
		Field:  f,
		Kind:   kind,
		Before: hex.EncodeToString(natural),
		After:  hex.EncodeToString(out),
	})
	return out
}

func (m *Mutator) ApplyUint(f modvar.Field, natural uint64) uint64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	kind, ok := m.pick(f)
	if !ok {
		return natural
	}
	out := m.mutateUint(kind, natural)
	m.applied = append(m.applied, Mutation{
		Field:  f,
		Kind:   kind,
		Before: fmt.Sprint(natural),
		After:  fmt.Sprint(out),
	})
	return out
}

func (m *Mutator) randomBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(m.rnd.Intn(256))
	}
	return out
}

func (m *Mutator) mutateBytes(kind MutationKind, natural []byte) []byte {
	out := make([]byte, len(natural))
	copy(out, natural)
	if len(out) == 0 && kind != Extend {
		// nothing to flip, cut or zero
		kind = Extend
	}
	switch kind {
	case BitFlip:
		i := m.rnd.Intn(len(out))
		out[i] ^= 1 << uint(m.rnd.Intn(8))
	case Truncate:
		n := m.amount()
		if n > len(out) {
			n = len(out)
		}
		out = out[:len(out)-n]
	case Extend:
		out = append(out, m.randomBytes(m.amount())...)
	case Zero:
		for i := range out {
			out[i] = 0
		}
		if allZero(natural) {
			out = out[:len(out)-1]
		}
	case Random:
		rnd := m.randomBytes(len(out))
		if string(rnd) == string(out) {
			rnd[0] ^= 0xff
		}
		out = rnd
	case AddDelta:
		i := m.rnd.Intn(len(out))
		out[i] += byte(m.delta())
	}
	return out
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// delta is a non zero signed amount
func (m *Mutator) delta() int64 {
	d := int64(m.amount())
	if m.rnd.Intn(2) == 0 {
		return -d
	}
	return d
}

// width of natural rounded up to whole bytes, at least one byte
func width(natural uint64) int {
	w := (bits.Len64(natural) + 7) / 8 * 8
	if w == 0 {
		return 8
	}
	return w
}

func (m *Mutator) mutateUint(kind MutationKind, natural uint64) uint64 {
	w := width(natural)
	switch kind {
	case BitFlip:
		return natural ^ 1<<uint(m.rnd.Intn(w))
	case Truncate:
		shift := uint(8 * m.amount())
		if shift >= 64 {
			return 0
		}
		return natural >> shift
	case Extend:
		shift := uint(8 * m.amount())
		if shift >= 64 {
			return ^uint64(0)
		}
		return natural<<shift | m.rnd.Uint64()&(1<<shift-1)
	case Zero:
		if natural == 0 {
			return 1
		}
		return 0
	case Random:
		v := m.rnd.Uint64()
		if w < 64 {
			v &= 1<<uint(w) - 1
		}
		if v == natural {
			v ^= 1
		}
		return v
	}
	return natural + uint64(m.delta())
}
