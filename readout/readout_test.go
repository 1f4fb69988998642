// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

import (
	"io"
	"log"
	"reflect"
	"testing"

	"github.com/go-lpc/lhcb/rawbank"
)

type tell1s []int

func (ts tell1s) Tell1s() []int { return ts }

type sink struct {
	sts []*Status
}

func (s *sink) PutStatus(st *Status) { s.sts = append(s.sts, st) }

var (
	discard = log.New(io.Discard, "", 0)
	types   = BankTypes{
		Packed: rawbank.EcalPacked,
		Short:  rawbank.EcalE,
		Error:  rawbank.EcalPackedError,
	}
)

func sources(banks []*rawbank.Bank) []int {
	srcs := make([]int, len(banks))
	for i, b := range banks {
		srcs[i] = b.SourceID
	}
	return srcs
}

func TestGetBanks(t *testing.T) {
	var clears int
	tool := New("test", tell1s{1, 2, 3, 4}, types, func() { clears++ }, WithLogger(discard))

	if got, want := tool.State(), NotFetched; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	bad := rawbank.New(rawbank.EcalPacked, 2, 4, nil)
	bad.Magic = 0xdead

	var evt rawbank.Event
	evt.Add(
		rawbank.New(rawbank.EcalPacked, 2, 3, nil),
		rawbank.New(rawbank.EcalPacked, 2, 1, nil),
		rawbank.New(rawbank.EcalPacked, 2, 9, nil),
		bad,
		rawbank.New(rawbank.EcalE, 1, 2, nil),
		rawbank.New(rawbank.EcalPackedError, 2, 3, nil),
		rawbank.New(rawbank.EcalPacked, 2, 1, []uint32{1}),
	)
	tool.OnNewEvent(&evt)

	if !tool.OK() {
		t.Fatalf("could not fetch banks")
	}
	if got, want := tool.State(), Fetched; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if !tool.Packed() {
		t.Fatalf("expected packed banks")
	}
	if got, want := sources(tool.Banks()), []int{1, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid banks: got=%v, want=%v", got, want)
	}
	if got := tool.Banks()[0]; len(got.Data) != 0 {
		t.Fatalf("first bank of a source not kept: %v", got)
	}

	st := tool.Status()
	for _, tc := range []struct {
		src  int
		want Flag
	}{
		{1, DuplicateEntry},
		{2, Missing},
		{3, ErrorBank},
		{4, BadMagicPattern},
		{9, Unexpected},
	} {
		if got := st.Get(tc.src); got != tc.want {
			t.Errorf("invalid status for source %d: got=%v, want=%v", tc.src, got, tc.want)
		}
	}

	cnt := tool.Counters()
	if cnt.Fetches != 1 || cnt.Missing != 1 || cnt.BadMagic != 1 || cnt.DupSources != 1 {
		t.Fatalf("invalid counters: %+v", *cnt)
	}

	// OK must not fetch again.
	tool.OK()
	if got, want := tool.Counters().Fetches, 1; got != want {
		t.Fatalf("invalid number of fetches: got=%d, want=%d", got, want)
	}
	if clears == 0 {
		t.Fatalf("clear not called")
	}
}

func TestGetBanksShort(t *testing.T) {
	var evt rawbank.Event
	evt.Add(
		rawbank.New(rawbank.EcalE, 1, 2, nil),
		rawbank.New(rawbank.EcalE, 1, 1, nil),
	)

	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"fallback", nil},
		{"short-default", []Option{WithPackedIsDefault(false)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tool := New("test", tell1s{1, 2, 3}, types, nil, append(tc.opts, WithLogger(discard))...)
			tool.OnNewEvent(&evt)
			if !tool.OK() {
				t.Fatalf("could not fetch banks")
			}
			if tool.Packed() {
				t.Fatalf("expected short banks")
			}
			if got, want := sources(tool.Banks()), []int{1, 2}; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid banks: got=%v, want=%v", got, want)
			}
			// missing Tell1s are only flagged for packed banks.
			if got, want := tool.Status().Get(3), Unknown; got != want {
				t.Fatalf("invalid status: got=%v, want=%v", got, want)
			}
			if got, want := tool.Status().Type(), rawbank.EcalE; got != want {
				t.Fatalf("invalid status type: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestGetBanksMissing(t *testing.T) {
	for _, tc := range []struct {
		name     string
		optional bool
	}{
		{"required", false},
		{"optional", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tool := New("test", tell1s{1, 2}, types, nil,
				WithLogger(discard), WithOptional(tc.optional),
			)
			tool.OnNewEvent(&rawbank.Event{})
			if got, want := tool.OK(), tc.optional; got != want {
				t.Fatalf("invalid ok: got=%v, want=%v", got, want)
			}
			if len(tool.Banks()) != 0 {
				t.Fatalf("unexpected banks")
			}
			for _, src := range []int{1, 2} {
				if got, want := tool.Status().Get(src), Missing; got != want {
					t.Fatalf("invalid status for %d: got=%v, want=%v", src, got, want)
				}
			}
		})
	}
}

func TestInvalidation(t *testing.T) {
	var clears int
	tool := New("test", tell1s{1}, types, func() { clears++ }, WithLogger(discard))

	evt1 := &rawbank.Event{Banks: []*rawbank.Bank{rawbank.New(rawbank.EcalPacked, 2, 1, nil)}}
	evt2 := &rawbank.Event{}

	tool.OnNewEvent(evt1)
	if !tool.OK() {
		t.Fatalf("could not fetch banks")
	}
	tool.CheckSrc(1)
	tool.MarkDecoded()
	st := tool.Status()

	n := clears
	tool.OnNewEvent(evt2)
	if clears != n+1 {
		t.Fatalf("clear not called on new event")
	}
	if got, want := tool.State(), NotFetched; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if tool.IsRead(1) {
		t.Fatalf("read sources survived invalidation")
	}
	if tool.OK() {
		t.Fatalf("stale banks survived invalidation")
	}
	if tool.Status() == st {
		t.Fatalf("stale status survived invalidation")
	}
	if got, want := tool.Counters().Fetches, 2; got != want {
		t.Fatalf("invalid number of fetches: got=%d, want=%d", got, want)
	}

	tool.OnConditionsChanged()
	if got, want := tool.State(), NotFetched; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	tool.SetDetector(tell1s{1, 2})
	if got, want := tool.Detector().Tell1s(), []int{1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid detector: got=%v, want=%v", got, want)
	}
}

func TestSetBanks(t *testing.T) {
	tool := New("test", tell1s{1, 2}, types, nil, WithLogger(discard))
	tool.OnNewEvent(&rawbank.Event{})

	b := rawbank.New(rawbank.EcalE, 1, 2, nil)
	tool.SetBanks([]*rawbank.Bank{b})
	if got, want := tool.State(), Fetched; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if !tool.OK() {
		t.Fatalf("invalid ok")
	}
	if tool.Packed() {
		t.Fatalf("expected short banks")
	}
	if got, want := tool.Counters().Fetches, 0; got != want {
		t.Fatalf("event store accessed: fetches=%d", got)
	}
	if got := tool.Banks(); len(got) != 1 || got[0] != b {
		t.Fatalf("invalid banks: %v", got)
	}
}

func TestCheckSrc(t *testing.T) {
	tool := New("test", tell1s{1}, types, nil, WithLogger(discard))
	if tool.CheckSrc(1) {
		t.Fatalf("first decode flagged as duplicate")
	}
	if !tool.IsRead(1) {
		t.Fatalf("source not registered")
	}
	if !tool.CheckSrc(1) {
		t.Fatalf("second decode not flagged as duplicate")
	}
	if got, want := tool.Status().Get(1), DuplicateEntry; got != want {
		t.Fatalf("invalid status: got=%v, want=%v", got, want)
	}
	if got, want := tool.Counters().DupSources, 1; got != want {
		t.Fatalf("invalid counter: got=%d, want=%d", got, want)
	}
}

func TestCheckBank(t *testing.T) {
	bad := rawbank.New(rawbank.EcalPacked, 2, 1, nil)
	bad.Magic = 0

	for _, tc := range []struct {
		name string
		bank *rawbank.Bank
		ok   bool
		want Flag
	}{
		{"valid", rawbank.New(rawbank.EcalPacked, 2, 1, nil), true, Unknown},
		{"valid-short", rawbank.New(rawbank.EcalE, 1, 1, nil), true, Unknown},
		{"bad-magic", bad, false, BadMagicPattern | Corrupted},
		{"bad-type", rawbank.New(rawbank.HcalPacked, 2, 1, nil), false, Corrupted},
		{"bad-version", rawbank.New(rawbank.EcalPacked, 7, 1, nil), false, Corrupted},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tool := New("test", tell1s{1}, types, nil, WithLogger(discard))
			if got, want := tool.CheckBank(tc.bank, 1, 2), tc.ok; got != want {
				t.Fatalf("invalid check: got=%v, want=%v", got, want)
			}
			if got, want := tool.Status().Get(1), tc.want; got != want {
				t.Fatalf("invalid status: got=%v, want=%v", got, want)
			}
		})
	}
}

// words stages the payload words of a bank.
type words struct {
	all  []uint32
	mark int
	srcs map[int][]uint32
}

func (w *words) Begin()    { w.mark = len(w.all) }
func (w *words) Rollback() { w.all = w.all[:w.mark] }
func (w *words) Commit(src int) {
	if w.srcs == nil {
		w.srcs = make(map[int][]uint32)
	}
	w.srcs[src] = append([]uint32{}, w.all[w.mark:]...)
}

func TestDecode(t *testing.T) {
	sized := func(size int, data ...uint32) *rawbank.Bank {
		b := rawbank.New(rawbank.EcalPacked, 2, 1, data)
		b.Size = size
		return b
	}

	for _, tc := range []struct {
		name  string
		bank  *rawbank.Bank
		clean bool
		flag  Flag // returned by the payload parser
		ok    bool
		want  Flag
		words []uint32 // committed for source 1
	}{
		{
			name:  "valid",
			bank:  sized(8, 1, 2),
			clean: true,
			ok:    true,
			want:  OK,
			words: []uint32{1, 2},
		},
		{
			name:  "bad-version",
			bank:  rawbank.New(rawbank.EcalPacked, 7, 1, []uint32{1}),
			clean: true,
			want:  Corrupted,
		},
		{
			name:  "empty",
			bank:  sized(0),
			clean: true,
			ok:    true,
			want:  Empty,
		},
		{
			name:  "zero-size-with-payload",
			bank:  sized(0, 1, 2),
			clean: true,
			ok:    true,
			want:  Corrupted,
		},
		{
			name:  "zero-size-with-payload-kept",
			bank:  sized(0, 1, 2),
			clean: false,
			ok:    true,
			want:  Corrupted,
			words: []uint32{},
		},
		{
			name:  "longer-declared-size",
			bank:  sized(16, 1, 2),
			clean: true,
			ok:    true,
			want:  Corrupted,
		},
		{
			name:  "shorter-declared-size-kept",
			bank:  sized(4, 1, 2),
			clean: false,
			ok:    true,
			want:  Corrupted,
			words: []uint32{1},
		},
		{
			name:  "corrupted-payload",
			bank:  sized(8, 1, 2),
			clean: true,
			flag:  DataCorrupted | Corrupted,
			ok:    true,
			want:  DataCorrupted | Corrupted,
		},
		{
			name:  "soft-flags",
			bank:  sized(8, 1, 2),
			clean: true,
			flag:  Tell1Sync,
			ok:    true,
			want:  Tell1Sync,
			words: []uint32{1, 2},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				tool = New("test", tell1s{1}, types, nil, WithLogger(discard), WithCleanWhenCorruption(tc.clean))
				st   words
			)
			ok := tool.Decode(tc.bank, &st, func(ws []uint32) Flag {
				st.all = append(st.all, ws...)
				return tc.flag
			}, 2)
			if ok != tc.ok {
				t.Fatalf("invalid decode: got=%v, want=%v", ok, tc.ok)
			}
			if got, want := tool.Status().Get(1), tc.want; got != want {
				t.Fatalf("invalid status: got=%v, want=%v", got, want)
			}
			if got, want := st.srcs[1], tc.words; !reflect.DeepEqual(got, want) {
				t.Fatalf("invalid committed words:\ngot= %v\nwant=%v", got, want)
			}

			cnt := tool.Counters()
			corrupted := 0
			if tc.ok && tc.want&Corrupted != 0 {
				corrupted = 1
			}
			if got, want := cnt.Corrupted, corrupted; got != want {
				t.Fatalf("invalid corrupted counter: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestStatusSink(t *testing.T) {
	var s sink
	tool := New("test", tell1s{1}, types, nil, WithLogger(discard), WithStatusSink(&s))
	if !tool.CleanWhenCorruption() {
		t.Fatalf("invalid default corruption policy")
	}

	tool.OnNewEvent(&rawbank.Event{Banks: []*rawbank.Bank{rawbank.New(rawbank.EcalPacked, 2, 1, nil)}})
	tool.OK()
	tool.Status().Add(1, OK)
	tool.MarkDecoded()
	tool.MarkDecoded()

	if got, want := len(s.sts), 1; got != want {
		t.Fatalf("invalid number of published statuses: got=%d, want=%d", got, want)
	}
	if got, want := s.sts[0].Get(1), OK; got != want {
		t.Fatalf("invalid published status: got=%v, want=%v", got, want)
	}
}

func TestCountersAdd(t *testing.T) {
	var sum Counters
	sum.Add(Counters{Fetches: 1, Banks: 4, Corrupted: 1, Missing: 2})
	sum.Add(Counters{Fetches: 1, Banks: 4, Decoded: 3, BadMagic: 1})

	want := Counters{Fetches: 2, Banks: 8, Decoded: 3, Corrupted: 1, Missing: 2, BadMagic: 1}
	if sum != want {
		t.Fatalf("invalid counters:\ngot= %+v\nwant=%+v", sum, want)
	}
	if got, want := sum.CorruptionRate(), 0.125; got != want {
		t.Fatalf("invalid corruption rate: got=%v, want=%v", got, want)
	}
	if got := (Counters{}).CorruptionRate(); got != 0 {
		t.Fatalf("invalid corruption rate without banks: got=%v", got)
	}
}
