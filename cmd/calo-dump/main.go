// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// calo-dump decodes and displays the banks of raw event files.
//
// Usage: calo-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> calo-dump -maps ecal.json,prs.json ./testdata/run_90.raw
//	=== run 90, event 1 ===
//	banks: 3
//	  Bank{type=EcalPacked, version=3, source=1, size=36, words=9}
//	[...]
//	Ecal: adcs=4 pins=0 l0=1 Range{min=-3 (Ecal[a=0,r=10,c=1]), max=50 (Ecal[a=0,r=10,c=3]), n=4}
//	  status: Status{type=EcalPacked, 1:OK}
//	  trigger status: Status{type=EcalPacked, 1:OK}
//	  Ecal[a=0,r=10,c=0] adc=    12 e=     5.000
//	[...]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/internal/mmap"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
	"golang.org/x/exp/slices"
)

const usage = `calo-dump decodes and displays the banks of raw event files.

Usage: calo-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> calo-dump -maps ecal.json,prs.json ./testdata/run_90.raw
 === run 90, event 1 ===
 banks: 3
   Bank{type=EcalPacked, version=3, source=1, size=36, words=9}
 [...]
 Ecal: adcs=4 pins=0 l0=1 Range{min=-3 (Ecal[a=0,r=10,c=1]), max=50 (Ecal[a=0,r=10,c=3]), n=4}
   status: Status{type=EcalPacked, 1:OK}
   trigger status: Status{type=EcalPacked, 1:OK}
   Ecal[a=0,r=10,c=0] adc=    12 e=     5.000
 [...]

Without readout maps, only the bank headers are displayed.

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("calo-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("calo-dump", flag.ExitOnError)

		maps  = fset.String("maps", "", "comma-separated list of JSON calorimeter readout maps")
		utMap = fset.String("ut", "", "path to the JSON upstream tracker mapping")
		nevts = fset.Int("n", 0, "number of events to display per file (0: all)")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input raw file")
	}

	var st *recon.Static
	if *maps != "" || *utMap != "" {
		var files []string
		if *maps != "" {
			files = strings.Split(*maps, ",")
		}
		st, err = recon.LoadStatic(files, *utMap)
		if err != nil {
			log.Fatalf("could not load readout maps: %+v", err)
		}
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, st, *nevts)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, st *recon.Static, nevts int) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open raw file: %w", err)
	}
	defer f.Close()

	var proc *recon.Processor
	if st != nil {
		proc, err = newProcessor(st)
		if err != nil {
			return fmt.Errorf("could not create event processor: %w", err)
		}
	}

	dec := rawbank.NewDecoder(f.Reader())
	for i := 0; nevts <= 0 || i < nevts; i++ {
		var evt rawbank.Event
		err := dec.Decode(&evt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("could not decode raw event: %w", err)
		}

		fmt.Fprintf(wbuf, "=== run %d, event %d ===\n", evt.Run, evt.Number)
		fmt.Fprintf(wbuf, "banks: %d\n", len(evt.Banks))
		for _, b := range evt.Banks {
			fmt.Fprintf(wbuf, "  %v\n", b)
		}

		if proc == nil {
			continue
		}

		res, err := proc.Process(context.Background(), &evt)
		if err != nil {
			return fmt.Errorf("could not decode event %d: %w", evt.Number, err)
		}
		dump(wbuf, res)
	}

	return nil
}

func newProcessor(st *recon.Static) (*recon.Processor, error) {
	var calos []calo.Name
	for name := range st.Calos {
		switch name {
		case calo.Ecal, calo.Hcal, calo.Prs:
			calos = append(calos, name)
		}
	}
	slices.Sort(calos)

	msg := log.New(io.Discard, "", 0)
	return recon.New(
		st, calos,
		recon.WithLogger(msg),
		recon.WithReadout(readout.WithLogger(msg)),
		recon.WithUT(st.UT != nil),
	)
}

func dump(w io.Writer, res *recon.Result) {
	for _, c := range res.Calos {
		fmt.Fprintf(w, "%v: adcs=%d pins=%d l0=%d %v\n",
			c.Name, len(c.Adcs), len(c.Pins), len(c.L0), c.Range,
		)
		fmt.Fprintf(w, "  status: %v\n", c.Status)
		if c.TrigStatus != nil {
			fmt.Fprintf(w, "  trigger status: %v\n", c.TrigStatus)
		}
		for i, adc := range c.Adcs {
			fmt.Fprintf(w, "  %v adc=% 6d e=% 10.3f\n", adc.ID, adc.Value, c.Digits[i].E)
		}
		for _, adc := range c.Pins {
			fmt.Fprintf(w, "  %v pin=% 6d\n", adc.ID, adc.Value)
		}
		for _, l0 := range c.L0 {
			fmt.Fprintf(w, "  %v l0=% 6d\n", l0.ID, l0.Value)
		}
		for _, id := range c.Prs {
			fmt.Fprintf(w, "  %v prs\n", id)
		}
		for _, id := range c.Spd {
			fmt.Fprintf(w, "  %v spd\n", id)
		}
	}

	if res.UT != nil {
		fmt.Fprintf(w, "UT: clusters=%d\n", len(res.UT.Clusters))
		fmt.Fprintf(w, "  status: %v\n", res.UT.Status)
		for _, c := range res.UT.Clusters {
			fmt.Fprintf(w, "  %v\n", c)
		}
	}
}
