// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// calo-inspect is an interactive shell giving random access to the
// channels of the events of a raw event file.
//
// Usage: calo-inspect [OPTIONS] -maps ecal.json,prs.json FILE
//
// Example:
//
//	$> calo-inspect -maps ecal.json,prs.json ./testdata/run_90.raw
//	calo> next
//	run 90, event 1: 3 banks
//	calo> adc Ecal:0:10:3
//	Ecal[a=0,r=10,c=3]: adc=50
//	calo> l0 Spd:0:10:1
//	Spd[a=0,r=10,c=1]: l0=1
//	calo> quit
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/go-lpc/lhcb/internal/mmap"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/peterh/liner"
)

const usage = `calo-inspect is an interactive shell giving random access to the
channels of the events of a raw event file.

Usage: calo-inspect [OPTIONS] -maps ecal.json,prs.json FILE

Example:

 $> calo-inspect -maps ecal.json,prs.json ./testdata/run_90.raw
 calo> next
 run 90, event 1: 3 banks
 calo> adc Ecal:0:10:3
 Ecal[a=0,r=10,c=3]: adc=50
 calo> l0 Spd:0:10:1
 Spd[a=0,r=10,c=1]: l0=1
 calo> quit

options:
`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("calo-inspect: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("calo-inspect", flag.ExitOnError)

		maps = fset.String("maps", "", "comma-separated list of JSON calorimeter readout maps")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() != 1 {
		fset.Usage()
		log.Fatalf("missing path to input raw file")
	}

	if *maps == "" {
		fset.Usage()
		log.Fatalf("missing readout maps")
	}

	st, err := recon.LoadStatic(strings.Split(*maps, ","), "")
	if err != nil {
		log.Fatalf("could not load readout maps: %+v", err)
	}

	f, err := mmap.Open(fset.Arg(0))
	if err != nil {
		log.Fatalf("could not open raw file: %+v", err)
	}
	defer f.Close()

	sh, err := newShell(w, f.Reader(), st)
	if err != nil {
		log.Fatalf("could not create shell: %+v", err)
	}

	err = run(sh)
	if err != nil {
		log.Fatalf("could not run shell: %+v", err)
	}
}

func run(sh *shell) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete)

	for {
		txt, err := line.Prompt("calo> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(txt) == "" {
			continue
		}
		line.AppendHistory(txt)

		err = sh.exec(txt)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.w, "error: %v\n", err)
		}
	}
}
