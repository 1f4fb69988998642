// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package readout holds the bank cache, status table and per-event state
// machine shared by the raw bank decoders.
package readout // import "github.com/go-lpc/lhcb/readout"

import (
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/lhcb/rawbank"
	"golang.org/x/exp/slices"
)

// State describes where a tool stands within the current event.
type State uint8

const (
	NotFetched State = iota // banks not fetched yet for this event
	Fetched                 // banks fetched, not decoded
	Decoded                 // all fetched banks decoded
)

func (s State) String() string {
	switch s {
	case NotFetched:
		return "NotFetched"
	case Fetched:
		return "Fetched"
	case Decoded:
		return "Decoded"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Detector describes the readout boards a tool expects banks from.
type Detector interface {
	// Tell1s returns the source IDs of the expected readout boards.
	Tell1s() []int
}

// BankTypes lists the bank types a tool reads.
// None marks an absent kind.
type BankTypes struct {
	Packed rawbank.Type
	Short  rawbank.Type
	Error  rawbank.Type
}

// Counters holds the diagnostic counters of a tool,
// accumulated over its lifetime.
type Counters struct {
	Fetches    int // bank fetches from the event
	Banks      int // banks handed to a decoder
	Decoded    int // banks decoded without corruption
	Corrupted  int // corrupted banks
	Duplicates int // duplicate channel entries
	DupSources int // sources decoded twice in the same event
	Missing    int // expected sources without a bank
	BadMagic   int // banks with an invalid magic pattern
	BadVersion int // banks with an unsupported type or version
}

// Add accumulates the counters of o into c.
func (c *Counters) Add(o Counters) {
	c.Fetches += o.Fetches
	c.Banks += o.Banks
	c.Decoded += o.Decoded
	c.Corrupted += o.Corrupted
	c.Duplicates += o.Duplicates
	c.DupSources += o.DupSources
	c.Missing += o.Missing
	c.BadMagic += o.BadMagic
	c.BadVersion += o.BadVersion
}

// CorruptionRate returns the fraction of corrupted banks.
func (c Counters) CorruptionRate() float64 {
	if c.Banks == 0 {
		return 0
	}
	return float64(c.Corrupted) / float64(c.Banks)
}

// Tool is the bank cache and per-event state machine owned by every decoder.
//
// A Tool is not safe for concurrent use: each decoder instance must be
// driven by a single goroutine.
type Tool struct {
	name  string
	det   Detector
	types BankTypes
	clear func()
	cfg   config

	evt    rawbank.Source
	state  State
	ok     bool
	packed bool
	banks  []*rawbank.Bank
	status *Status
	read   map[int]struct{} // sources decoded during the current cycle
	cnt    Counters
}

// New creates a new tool named name, reading banks of the given types
// from the Tell1s of det.
// clear is called every time the decoded state of the owner must be
// discarded.
func New(name string, det Detector, types BankTypes, clear func(), opts ...Option) *Tool {
	if clear == nil {
		clear = func() {}
	}
	t := &Tool{
		name:  name,
		det:   det,
		types: types,
		clear: clear,
		cfg:   newConfig(),
		read:  make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(&t.cfg)
	}
	if t.cfg.msg == nil {
		t.cfg.msg = log.New(os.Stdout, name+": ", 0)
	}
	return t
}

// Name returns the name of the tool.
func (t *Tool) Name() string { return t.name }

// Types returns the bank types read by the tool.
func (t *Tool) Types() BankTypes { return t.types }

// Detector returns the readout description of the tool.
func (t *Tool) Detector() Detector { return t.det }

// SetDetector installs a new readout description and invalidates the
// current event.
func (t *Tool) SetDetector(det Detector) {
	t.det = det
	t.OnConditionsChanged()
}

// Logger returns the logger of the tool.
func (t *Tool) Logger() *log.Logger { return t.cfg.msg }

// CleanWhenCorruption reports whether the entries of corrupted banks
// must be discarded.
func (t *Tool) CleanWhenCorruption() bool { return t.cfg.clean }

// Counters returns the diagnostic counters of the tool.
// The returned value is owned by the tool.
func (t *Tool) Counters() *Counters { return &t.cnt }

// State returns the current state of the tool.
func (t *Tool) State() State { return t.state }

// OnNewEvent invalidates all cached state and attaches the tool to the
// banks of the new event.
func (t *Tool) OnNewEvent(evt rawbank.Source) {
	t.evt = evt
	t.invalidate()
}

// OnConditionsChanged invalidates all cached state.
func (t *Tool) OnConditionsChanged() {
	t.invalidate()
}

func (t *Tool) invalidate() {
	t.state = NotFetched
	t.ok = false
	t.banks = nil
	t.status = nil
	t.reset()
}

// reset discards the decoded state of the current cycle.
func (t *Tool) reset() {
	t.clear()
	for k := range t.read {
		delete(t.read, k)
	}
}

// GetBanks fetches the banks of the current event.
// GetBanks reports false when no bank could be found and banks are not
// optional.
func (t *Tool) GetBanks() bool {
	t.cnt.Fetches++
	t.reset()
	t.state = Fetched
	t.status = nil
	t.banks = nil
	t.ok = false

	first, second := t.types.Packed, t.types.Short
	if !t.cfg.packed {
		first, second = second, first
	}

	banks := t.fetch(first)
	t.packed = first == t.types.Packed
	if len(banks) == 0 {
		banks = t.fetch(second)
		t.packed = second == t.types.Packed
	}

	st := t.Status()
	if len(banks) == 0 {
		for _, tell1 := range t.tell1s() {
			st.Add(tell1, Missing)
			t.cnt.Missing++
		}
		t.ok = t.cfg.optional
		if !t.ok {
			t.cfg.msg.Printf("no bank of type %v/%v found", t.types.Packed, t.types.Short)
		}
		return t.ok
	}

	if t.packed {
		for _, b := range t.fetch(t.types.Error) {
			st.Add(b.SourceID, ErrorBank)
		}
	}

	expected := make(map[int]bool)
	for _, tell1 := range t.tell1s() {
		expected[tell1] = true
	}

	banks = slices.Clone(banks)
	slices.SortStableFunc(banks, func(a, b *rawbank.Bank) bool {
		return a.SourceID < b.SourceID
	})

	t.banks = banks[:0]
	seen := make(map[int]bool, len(banks))
	for _, b := range banks {
		if b.Magic != rawbank.Magic {
			st.Add(b.SourceID, BadMagicPattern)
			t.cnt.BadMagic++
		}
		if len(expected) > 0 && !expected[b.SourceID] {
			st.Add(b.SourceID, Unexpected)
			t.cfg.msg.Printf("unexpected bank from source %d", b.SourceID)
			continue
		}
		if seen[b.SourceID] {
			st.Add(b.SourceID, DuplicateEntry)
			t.cnt.DupSources++
			t.cfg.msg.Printf("duplicate bank from source %d", b.SourceID)
			continue
		}
		seen[b.SourceID] = true
		t.banks = append(t.banks, b)
	}

	if t.packed {
		for _, tell1 := range t.tell1s() {
			if !seen[tell1] {
				st.Add(tell1, Missing)
				t.cnt.Missing++
			}
		}
	}

	t.ok = true
	return t.ok
}

func (t *Tool) fetch(typ rawbank.Type) []*rawbank.Bank {
	if t.evt == nil || typ == rawbank.None {
		return nil
	}
	return t.evt.BanksOf(typ)
}

func (t *Tool) tell1s() []int {
	if t.det == nil {
		return nil
	}
	return t.det.Tell1s()
}

// SetBanks adopts an explicit list of banks, bypassing the event store,
// and discards any decoded state.
func (t *Tool) SetBanks(banks []*rawbank.Bank) {
	t.reset()
	t.status = nil
	t.banks = slices.Clone(banks)
	t.packed = len(banks) == 0 || banks[0].Type != t.types.Short
	t.ok = true
	t.state = Fetched
}

// OK reports whether the last bank fetch succeeded, fetching the banks
// if this was not already done for the current event.
func (t *Tool) OK() bool {
	if t.state == NotFetched {
		t.GetBanks()
	}
	return t.ok
}

// Banks returns the banks of the current event, fetching them if needed.
func (t *Tool) Banks() []*rawbank.Bank {
	t.OK()
	return t.banks
}

// Packed reports whether the fetched banks are of the packed kind.
func (t *Tool) Packed() bool { return t.packed }

// Status returns the status table of the current event.
func (t *Tool) Status() *Status {
	if t.status == nil {
		typ := t.types.Packed
		if !t.packed && t.state != NotFetched {
			typ = t.types.Short
		}
		t.status = NewStatus(typ)
	}
	return t.status
}

// CheckSrc registers src as decoded during the current cycle.
// CheckSrc reports true, and flags src as DuplicateEntry, when src was
// already decoded.
func (t *Tool) CheckSrc(src int) bool {
	if _, dup := t.read[src]; dup {
		t.Status().Add(src, DuplicateEntry)
		t.cnt.DupSources++
		return true
	}
	t.read[src] = struct{}{}
	return false
}

// IsRead reports whether src was already decoded during the current cycle.
func (t *Tool) IsRead(src int) bool {
	_, ok := t.read[src]
	return ok
}

// MarkDecoded records that every fetched bank has been decoded and
// publishes the status table to the configured sink.
func (t *Tool) MarkDecoded() {
	if t.state == Decoded {
		return
	}
	t.state = Decoded
	if t.cfg.sink != nil {
		t.cfg.sink.PutStatus(t.Status())
	}
}

// CheckBank validates the header of b against the bank types of the tool
// and the provided supported versions.
// CheckBank reports false, and flags the source of b, when b can not be
// decoded at all.
func (t *Tool) CheckBank(b *rawbank.Bank, versions ...uint8) bool {
	t.cnt.Banks++
	st := t.Status()
	switch {
	case b.Magic != rawbank.Magic:
		st.Add(b.SourceID, BadMagicPattern|Corrupted)
		t.cnt.Corrupted++
		return false
	case b.Type != t.types.Packed && b.Type != t.types.Short:
		st.Add(b.SourceID, Corrupted)
		t.cnt.BadVersion++
		t.cfg.msg.Printf("unexpected bank type %v (source=%d)", b.Type, b.SourceID)
		return false
	case !slices.Contains(versions, b.Version):
		st.Add(b.SourceID, Corrupted)
		t.cnt.BadVersion++
		t.cfg.msg.Printf(
			"unsupported version %d for bank type %v (source=%d)",
			b.Version, b.Type, b.SourceID,
		)
		return false
	}
	return true
}

// Stager stages the entries decoded from one bank until the bank is
// known to be valid.
type Stager interface {
	Begin()
	Rollback()
	Commit(src int)
}

// Decode validates b and decodes its payload with parse, staging the
// decoded entries in st.
// A bank whose declared size differs from its payload is Corrupted: only
// the declared prefix is parsed, and its entries are discarded when
// CleanWhenCorruption is set.
// Decode reports false when b could not be decoded at all.
func (t *Tool) Decode(b *rawbank.Bank, st Stager, parse func(words []uint32) Flag, versions ...uint8) bool {
	if !t.CheckBank(b, versions...) {
		return false
	}

	var (
		status = t.Status()
		src    = b.SourceID
		words  = b.Data
		flag   Flag
	)

	if b.Size == 0 && len(words) == 0 {
		status.Add(src, Empty)
		return true
	}

	if n := b.Words(); n != len(words) {
		t.cfg.msg.Printf("bank %v declares %d words, holds %d", b, n, len(words))
		flag |= Corrupted
		if n < len(words) {
			words = words[:n]
		}
	}

	st.Begin()
	flag |= parse(words)

	switch {
	case flag&Corrupted != 0:
		t.cnt.Corrupted++
		if t.cfg.clean {
			st.Rollback()
		} else {
			st.Commit(src)
		}
	default:
		t.cnt.Decoded++
		st.Commit(src)
	}

	status.Add(src, flag)
	return true
}
