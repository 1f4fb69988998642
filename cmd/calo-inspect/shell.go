// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/caloraw"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
	"golang.org/x/exp/slices"
)

var (
	errQuit = errors.New("quit")
	discard = log.New(io.Discard, "", 0)
)

const absent = math.MinInt32

type shell struct {
	w   io.Writer
	dec *rawbank.Decoder
	evt *rawbank.Event

	adcs map[calo.Name]*caloraw.DataProvider
	l0s  map[calo.Name]*caloraw.L0DataProvider
	cmds map[string]command
}

type command struct {
	args string
	help string
	run  func(args []string) error
}

func newShell(w io.Writer, r io.Reader, st *recon.Static) (*shell, error) {
	sh := &shell{
		w:    w,
		dec:  rawbank.NewDecoder(r),
		adcs: make(map[calo.Name]*caloraw.DataProvider),
		l0s:  make(map[calo.Name]*caloraw.L0DataProvider),
	}

	var (
		msg  = readout.WithLogger(discard)
		opts = []readout.Option{msg, readout.WithOptional(true)}
	)
	for name, det := range st.Calos {
		switch name {
		case calo.Ecal, calo.Hcal:
			dp, err := caloraw.NewDataProvider(det, opts...)
			if err != nil {
				return nil, fmt.Errorf("could not create %v data provider: %w", name, err)
			}
			sh.adcs[name] = dp
			l0, err := caloraw.NewL0DataProvider(det, opts...)
			if err != nil {
				return nil, fmt.Errorf("could not create %v L0 data provider: %w", name, err)
			}
			sh.l0s[name] = l0

		case calo.Prs:
			dp, err := caloraw.NewDataProvider(det, opts...)
			if err != nil {
				return nil, fmt.Errorf("could not create %v data provider: %w", name, err)
			}
			sh.adcs[name] = dp
			prs, err := caloraw.NewL0DataProvider(det, opts...)
			if err != nil {
				return nil, fmt.Errorf("could not create %v L0 data provider: %w", name, err)
			}
			sh.l0s[calo.Prs] = prs

			spdDet, err := det.ForCalo(calo.Spd)
			if err != nil {
				return nil, fmt.Errorf("could not create Spd readout map: %w", err)
			}
			spd, err := caloraw.NewL0DataProvider(spdDet, opts...)
			if err != nil {
				return nil, fmt.Errorf("could not create Spd L0 data provider: %w", err)
			}
			sh.l0s[calo.Spd] = spd
		}
	}

	sh.cmds = map[string]command{
		"help":   {"", "display this help message", sh.cmdHelp},
		"next":   {"", "load the next event", sh.cmdNext},
		"event":  {"", "display the current event header", sh.cmdEvent},
		"banks":  {"", "list the banks of the current event", sh.cmdBanks},
		"adc":    {"CELL", "display the ADC value of a channel", sh.cmdAdc},
		"digit":  {"CELL", "display the energy of a channel", sh.cmdDigit},
		"l0":     {"CELL", "display the L0 value of a channel", sh.cmdL0},
		"tell1":  {"CALO SRC", "list the ADC values read out by a board", sh.cmdTell1},
		"range":  {"CALO", "display the range of the ADC values", sh.cmdRange},
		"status": {"CALO", "display the decoding status of the ADC banks", sh.cmdStatus},
		"quit":   {"", "quit the shell", sh.cmdQuit},
	}

	return sh, nil
}

func (sh *shell) names() []string {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (sh *shell) complete(line string) []string {
	var cmds []string
	for _, name := range sh.names() {
		if strings.HasPrefix(name, line) {
			cmds = append(cmds, name)
		}
	}
	return cmds
}

func (sh *shell) exec(line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}

	cmd, ok := sh.cmds[toks[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", toks[0])
	}
	args := toks[1:]
	if n := len(strings.Fields(cmd.args)); len(args) != n {
		return fmt.Errorf("invalid number of arguments for %q (got=%d, want=%d)", toks[0], len(args), n)
	}
	return cmd.run(args)
}

func (sh *shell) cmdHelp(args []string) error {
	for _, name := range sh.names() {
		cmd := sh.cmds[name]
		fmt.Fprintf(sh.w, "  %-16s %s\n", strings.TrimSpace(name+" "+cmd.args), cmd.help)
	}
	return nil
}

func (sh *shell) cmdQuit(args []string) error { return errQuit }

func (sh *shell) cmdNext(args []string) error {
	var evt rawbank.Event
	err := sh.dec.Decode(&evt)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("no more events")
		}
		return fmt.Errorf("could not decode raw event: %w", err)
	}

	sh.evt = &evt
	for _, dp := range sh.adcs {
		dp.OnNewEvent(sh.evt)
	}
	for _, dp := range sh.l0s {
		dp.OnNewEvent(sh.evt)
	}
	return sh.cmdEvent(nil)
}

func (sh *shell) event() error {
	if sh.evt == nil {
		return fmt.Errorf("no event loaded")
	}
	return nil
}

func (sh *shell) cmdEvent(args []string) error {
	if err := sh.event(); err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "run %d, event %d: %d banks\n", sh.evt.Run, sh.evt.Number, len(sh.evt.Banks))
	return nil
}

func (sh *shell) cmdBanks(args []string) error {
	if err := sh.event(); err != nil {
		return err
	}
	for _, b := range sh.evt.Banks {
		fmt.Fprintf(sh.w, "%v\n", b)
	}
	return nil
}

func (sh *shell) dataProvider(name calo.Name) (*caloraw.DataProvider, error) {
	if err := sh.event(); err != nil {
		return nil, err
	}
	dp, ok := sh.adcs[name]
	if !ok {
		return nil, fmt.Errorf("no ADC readout map for %v", name)
	}
	return dp, nil
}

func (sh *shell) cmdAdc(args []string) error {
	id, err := parseCell(args[0])
	if err != nil {
		return err
	}
	dp, err := sh.dataProvider(id.Calo())
	if err != nil {
		return err
	}
	v := dp.Adc(id, absent)
	if v == absent {
		fmt.Fprintf(sh.w, "%v: not read out\n", id)
		return nil
	}
	fmt.Fprintf(sh.w, "%v: adc=%d\n", id, v)
	return nil
}

func (sh *shell) cmdDigit(args []string) error {
	id, err := parseCell(args[0])
	if err != nil {
		return err
	}
	dp, err := sh.dataProvider(id.Calo())
	if err != nil {
		return err
	}
	e := dp.Digit(id, math.NaN())
	if math.IsNaN(e) {
		fmt.Fprintf(sh.w, "%v: not read out\n", id)
		return nil
	}
	fmt.Fprintf(sh.w, "%v: e=%g\n", id, e)
	return nil
}

func (sh *shell) cmdL0(args []string) error {
	id, err := parseCell(args[0])
	if err != nil {
		return err
	}
	if err := sh.event(); err != nil {
		return err
	}
	dp, ok := sh.l0s[id.Calo()]
	if !ok {
		return fmt.Errorf("no L0 readout map for %v", id.Calo())
	}
	v := dp.L0Adc(id, absent)
	if v == absent {
		fmt.Fprintf(sh.w, "%v: not read out\n", id)
		return nil
	}
	fmt.Fprintf(sh.w, "%v: l0=%d\n", id, v)
	return nil
}

func (sh *shell) cmdTell1(args []string) error {
	name, err := calo.ParseName(args[0])
	if err != nil {
		return err
	}
	src, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid source %q: %w", args[1], err)
	}
	dp, err := sh.dataProvider(name)
	if err != nil {
		return err
	}
	adcs := dp.AdcsFor(src)
	fmt.Fprintf(sh.w, "%v source %d: %d ADCs\n", name, src, len(adcs))
	for _, adc := range adcs {
		fmt.Fprintf(sh.w, "  %v: adc=%d\n", adc.ID, adc.Value)
	}
	return nil
}

func (sh *shell) cmdRange(args []string) error {
	name, err := calo.ParseName(args[0])
	if err != nil {
		return err
	}
	dp, err := sh.dataProvider(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "%v: std=%v pin=%v\n", name, dp.ADCRange(), dp.PinRange())
	return nil
}

func (sh *shell) cmdStatus(args []string) error {
	name, err := calo.ParseName(args[0])
	if err != nil {
		return err
	}
	dp, err := sh.dataProvider(name)
	if err != nil {
		return err
	}
	dp.Adcs()
	fmt.Fprintf(sh.w, "%v: %v\n", name, dp.Status())
	return nil
}

// parseCell parses a channel given as CALO:AREA:ROW:COL.
func parseCell(s string) (calo.CellID, error) {
	toks := strings.Split(s, ":")
	if len(toks) != 4 {
		return 0, fmt.Errorf("invalid cell %q (want CALO:AREA:ROW:COL)", s)
	}
	name, err := calo.ParseName(toks[0])
	if err != nil {
		return 0, fmt.Errorf("invalid cell %q: %w", s, err)
	}

	var (
		vs   [3]int
		maxs = [3]int{calo.PinArea, 63, 63}
	)
	for i, tok := range toks[1:] {
		v, err := strconv.Atoi(tok)
		if err != nil || v < 0 || v > maxs[i] {
			return 0, fmt.Errorf("invalid cell %q: invalid field %q", s, tok)
		}
		vs[i] = v
	}
	return calo.NewCellID(name, vs[0], vs[1], vs[2]), nil
}
