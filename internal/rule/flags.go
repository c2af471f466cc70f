// Package rule holds compiled build rules: target/dep patterns, flags,
// resource specs, and the rule-target trie used to match node names
// against candidate producing rules.
package rule

import "strings"

// Tflag is a target flag. The wire byte for each flag is fixed and must
// never change, since it is persisted in the store.
type Tflag uint16

const (
	TflagEssential Tflag = 1 << iota
	TflagIncremental
	TflagNoUniquify
	TflagNoWarning
	TflagPhony
	TflagStatic
	TflagTarget
)

// tflagChars maps each Tflag bit to its canonical wire character.
var tflagChars = map[Tflag]byte{
	TflagEssential:   'E',
	TflagIncremental: 'i',
	TflagNoUniquify:  'u',
	TflagNoWarning:   'w',
	TflagPhony:       'p',
	TflagStatic:      'S',
	TflagTarget:      'T',
}

// ExtraTflag carries target flags with no short wire char plus the ones
// that do have one.
type ExtraTflag uint8

const (
	ExtraTflagIgnore ExtraTflag = 1 << iota
	ExtraTflagSourceOk
	ExtraTflagAllow
	ExtraTflagTop
	ExtraTflagOptional
	ExtraTflagWash
)

var extraTflagChars = map[ExtraTflag]byte{
	ExtraTflagIgnore:   'I',
	ExtraTflagSourceOk: 's',
	ExtraTflagAllow:    'a',
}

// Dflag is a dep flag.
type Dflag uint16

const (
	DflagCritical Dflag = 1 << iota
	DflagEssential
	DflagIgnoreError
	DflagRequired
	DflagStatic
)

var dflagChars = map[Dflag]byte{
	DflagCritical:    'c',
	DflagEssential:   'E',
	DflagIgnoreError: 'e',
	DflagRequired:    'r',
	DflagStatic:      'S',
}

// ExtraDflag carries dep flags with no short wire char plus the ones
// that do have one.
type ExtraDflag uint8

const (
	ExtraDflagIgnore ExtraDflag = 1 << iota
	ExtraDflagStatReadData
)

var extraDflagChars = map[ExtraDflag]byte{
	ExtraDflagIgnore:       'I',
	ExtraDflagStatReadData: 'd',
}

// Has reports whether flag bit f is set in flags.
func (t Tflag) Has(f Tflag) bool { return t&f != 0 }
func (d Dflag) Has(f Dflag) bool { return d&f != 0 }

// StaticPhony implements spec.md's invariant:
// static_phony(tflags) == Target && (Static || Phony).
func StaticPhony(t Tflag) bool {
	return t.Has(TflagTarget) && (t.Has(TflagStatic) || t.Has(TflagPhony))
}

// String renders a Tflag set using its canonical wire characters, in bit
// order, for persistence and debug display.
func (t Tflag) String() string {
	var b strings.Builder
	for _, f := range []Tflag{TflagEssential, TflagIncremental, TflagNoUniquify, TflagNoWarning, TflagPhony, TflagStatic, TflagTarget} {
		if t.Has(f) {
			b.WriteByte(tflagChars[f])
		}
	}
	return b.String()
}

// String renders a Dflag set using its canonical wire characters.
func (d Dflag) String() string {
	var b strings.Builder
	for _, f := range []Dflag{DflagCritical, DflagEssential, DflagIgnoreError, DflagRequired, DflagStatic} {
		if d.Has(f) {
			b.WriteByte(dflagChars[f])
		}
	}
	return b.String()
}
