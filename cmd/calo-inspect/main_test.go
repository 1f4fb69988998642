// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/internal/rawtest"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/rawbank"
)

func newTestShell(t *testing.T, out *bytes.Buffer, evts ...*rawbank.Event) *shell {
	t.Helper()

	raw := new(bytes.Buffer)
	enc := rawbank.NewEncoder(raw)
	for _, evt := range evts {
		err := enc.Encode(evt)
		if err != nil {
			t.Fatalf("could not encode event %d: %+v", evt.Number, err)
		}
	}

	st := &recon.Static{
		Calos: map[calo.Name]*calo.Detector{
			calo.Ecal: rawtest.Ecal(),
			calo.Prs:  rawtest.Prs(),
		},
	}
	sh, err := newShell(out, raw, st)
	if err != nil {
		t.Fatalf("could not create shell: %+v", err)
	}
	return sh
}

func TestShell(t *testing.T) {
	out := new(bytes.Buffer)
	sh := newTestShell(t, out,
		rawtest.Event(90, 1, 12),
		rawtest.Corrupt(rawtest.Event(90, 2, 13)),
	)

	for _, tc := range []struct {
		cmd  string
		want string
	}{
		{"next", "run 90, event 1: 3 banks\n"},
		{"event", "run 90, event 1: 3 banks\n"},
		{"adc Ecal:0:10:0", "Ecal[a=0,r=10,c=0]: adc=12\n"},
		{"adc Ecal:0:10:2", "Ecal[a=0,r=10,c=2]: adc=0\n"},
		{"adc Ecal:0:10:3", "Ecal[a=0,r=10,c=3]: adc=50\n"},
		{"adc Ecal:0:11:0", "Ecal[a=0,r=11,c=0]: not read out\n"},
		{"adc Prs:0:10:1", "Prs[a=0,r=10,c=1]: adc=30\n"},
		{"digit Ecal:0:10:0", "Ecal[a=0,r=10,c=0]: e=5\n"},
		{"digit Ecal:0:10:3", "Ecal[a=0,r=10,c=3]: e=50\n"},
		{"l0 Ecal:0:10:0", "Ecal[a=0,r=10,c=0]: l0=20\n"},
		{"l0 Prs:0:10:0", "Prs[a=0,r=10,c=0]: l0=1\n"},
		{"l0 Spd:0:10:1", "Spd[a=0,r=10,c=1]: l0=1\n"},
		{
			"range Ecal",
			"Ecal: std=Range{min=-3 (Ecal[a=0,r=10,c=1]), max=50 (Ecal[a=0,r=10,c=3]), n=4} pin=Range{}\n",
		},
		{"status Ecal", "Ecal: Status{type=EcalPacked, 1:OK}\n"},
		{"status Prs", "Prs: Status{type=PrsPacked, 2:OK}\n"},
		{"   ", ""},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			out.Reset()
			err := sh.exec(tc.cmd)
			if err != nil {
				t.Fatalf("could not run %q: %+v", tc.cmd, err)
			}
			if got, want := out.String(), tc.want; got != want {
				t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
			}
		})
	}

	out.Reset()
	err := sh.exec("tell1 Ecal 1")
	if err != nil {
		t.Fatalf("could not run tell1: %+v", err)
	}
	if got, want := out.String(), "Ecal source 1: 4 ADCs\n"; !strings.HasPrefix(got, want) {
		t.Fatalf("invalid tell1 output:\ngot= %q\nwant=%q", got, want)
	}
	if got, want := strings.Count(out.String(), "\n"), 5; got != want {
		t.Fatalf("invalid number of tell1 lines: got=%d, want=%d", got, want)
	}

	out.Reset()
	err = sh.exec("banks")
	if err != nil {
		t.Fatalf("could not run banks: %+v", err)
	}
	if got, want := strings.Count(out.String(), "\n"), 3; got != want {
		t.Fatalf("invalid number of banks: got=%d, want=%d", got, want)
	}
	if got, want := out.String(), "Bank{type=EcalPacked, version=3, source=1, size=36, words=9}\n"; !strings.HasPrefix(got, want) {
		t.Fatalf("invalid banks output:\ngot= %q\nwant=%q", got, want)
	}

	out.Reset()
	err = sh.exec("next")
	if err != nil {
		t.Fatalf("could not load second event: %+v", err)
	}
	for _, tc := range []struct {
		cmd  string
		want string
	}{
		{"adc Ecal:0:10:3", "Ecal[a=0,r=10,c=3]: not read out\n"},
		{"adc Prs:0:10:1", "Prs[a=0,r=10,c=1]: adc=30\n"},
		{"range Ecal", "Ecal: std=Range{} pin=Range{}\n"},
	} {
		out.Reset()
		err := sh.exec(tc.cmd)
		if err != nil {
			t.Fatalf("could not run %q: %+v", tc.cmd, err)
		}
		if got, want := out.String(), tc.want; got != want {
			t.Fatalf("invalid %q output:\ngot= %q\nwant=%q", tc.cmd, got, want)
		}
	}

	out.Reset()
	err = sh.exec("status Ecal")
	if err != nil {
		t.Fatalf("could not run status: %+v", err)
	}
	if got, want := out.String(), "Ecal: Status{type=EcalPacked, 1:"; !strings.HasPrefix(got, want) || strings.Contains(got, "1:OK") {
		t.Fatalf("invalid status of corrupted bank: %q", got)
	}

	err = sh.exec("next")
	if got, want := errString(err), "no more events"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}

	err = sh.exec("quit")
	if !errors.Is(err, errQuit) {
		t.Fatalf("invalid quit error: %+v", err)
	}
}

func TestShellErrors(t *testing.T) {
	out := new(bytes.Buffer)
	sh := newTestShell(t, out, rawtest.Event(90, 1, 12))

	for _, tc := range []struct {
		cmd string
		err string
	}{
		{"adc Ecal:0:10:0", "no event loaded"},
		{"banks", "no event loaded"},
		{"l0 Ecal:0:10:0", "no event loaded"},
		{"foo", `unknown command "foo"`},
		{"adc", `invalid number of arguments for "adc" (got=0, want=1)`},
		{"next 1", `invalid number of arguments for "next" (got=1, want=0)`},
		{"adc Ecal:0:10", `invalid cell "Ecal:0:10" (want CALO:AREA:ROW:COL)`},
		{"adc Foo:0:10:0", `invalid cell "Foo:0:10:0": calo: unknown calorimeter "Foo"`},
		{"adc Ecal:4:10:0", `invalid cell "Ecal:4:10:0": invalid field "4"`},
		{"adc Ecal:0:64:0", `invalid cell "Ecal:0:64:0": invalid field "64"`},
		{"adc Ecal:0:x:0", `invalid cell "Ecal:0:x:0": invalid field "x"`},
		{"range Foo", `calo: unknown calorimeter "Foo"`},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			err := sh.exec(tc.cmd)
			if got, want := errString(err), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}

	err := sh.exec("next")
	if err != nil {
		t.Fatalf("could not load event: %+v", err)
	}

	for _, tc := range []struct {
		cmd string
		err string
	}{
		{"adc Hcal:0:10:0", "no ADC readout map for Hcal"},
		{"l0 Hcal:0:10:0", "no L0 readout map for Hcal"},
		{"status Hcal", "no ADC readout map for Hcal"},
		{"tell1 Ecal x", `invalid source "x": strconv.Atoi: parsing "x": invalid syntax`},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			err := sh.exec(tc.cmd)
			if got, want := errString(err), tc.err; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}

	err = sh.exec("next")
	if got, want := errString(err), "no more events"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestComplete(t *testing.T) {
	sh := newTestShell(t, new(bytes.Buffer))

	for _, tc := range []struct {
		line string
		want []string
	}{
		{"", []string{"adc", "banks", "digit", "event", "help", "l0", "next", "quit", "range", "status", "tell1"}},
		{"d", []string{"digit"}},
		{"e", []string{"event"}},
		{"zz", nil},
	} {
		t.Run(tc.line, func(t *testing.T) {
			got := sh.complete(tc.line)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid completion:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}

	out := new(bytes.Buffer)
	sh.w = out
	err := sh.exec("help")
	if err != nil {
		t.Fatalf("could not run help: %+v", err)
	}
	if got, want := strings.Count(out.String(), "\n"), len(sh.cmds); got != want {
		t.Fatalf("invalid help output: got=%d lines, want=%d", got, want)
	}
	if !strings.Contains(out.String(), "tell1 CALO SRC") {
		t.Fatalf("missing tell1 usage in help:\n%s", out.String())
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
