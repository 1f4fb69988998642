// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// calo2lcio decodes the calorimeter (and upstream tracker) banks of raw
// event files and stores the decoded events into an LCIO file.
//
// Usage: calo2lcio [OPTIONS] -cfg config.json FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> calo2lcio -cfg ./calo.json -o run_90.lcio ./run_90.000.raw ./run_90.001.raw
//	calo2lcio: loading conditions of run 90...
//	events:           2000
//	banks:            8000
//	decoded:          7996
//	corrupted:           4 (0.05%)
//	duplicates:          0
//	missing:             0
package main

import (
	"compress/flate"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/lhcb/conddb"
	"github.com/go-lpc/lhcb/internal/config"
	"github.com/go-lpc/lhcb/internal/mmap"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/internal/xcnv"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
	"github.com/sbinet/pmon"
	"go-hep.org/x/hep/lcio"
	mail "gopkg.in/gomail.v2"
)

const usage = `calo2lcio decodes raw event files into an LCIO file.

Usage: calo2lcio [OPTIONS] -cfg config.json FILE1 [FILE2 [FILE3 ...]]

Example:

 $> calo2lcio -cfg ./calo.json -o run_90.lcio ./run_90.000.raw ./run_90.001.raw
 calo2lcio: loading conditions of run 90...
 events:           2000
 banks:            8000
 decoded:          7996
 corrupted:           4 (0.05%)
 duplicates:          0
 missing:             0

options:
`

var (
	msg = log.New(os.Stdout, "calo2lcio: ", 0)
)

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("calo2lcio: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("calo2lcio", flag.ExitOnError)

		fcfg  = fset.String("cfg", "", "path to the JSON configuration file")
		oname = fset.String("o", "out.lcio", "path to output LCIO file")
		compr = fset.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		doMon = fset.Bool("pmon", false, "enable pmon monitoring")
		freq  = fset.Duration("freq", 1*time.Second, "pmon frequency")
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

	if *fcfg == "" {
		fset.Usage()
		log.Fatalf("missing path to configuration file")
	}

	if *oname == "" {
		fset.Usage()
		log.Fatalf("invalid output LCIO file name")
	}

	cfg, err := config.Load(*fcfg)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	if *doMon {
		stop, err := monitor(*oname+".pmon", *freq)
		if err != nil {
			log.Fatalf("could not start monitoring: %+v", err)
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	st, err := process(ctx, *oname, *compr, cfg, fset.Args())
	if err != nil {
		log.Fatalf("could not convert raw files: %+v", err)
	}

	st.print(w)

	if cfg.Alert != nil && st.cnt.CorruptionRate() > cfg.Alert.Threshold {
		err = alert(cfg.Alert, st, *oname)
		if err != nil {
			log.Printf("could not send mail alert: %+v", err)
		}
	}
}

type stats struct {
	events int
	cnt    readout.Counters
}

func (st stats) print(w io.Writer) {
	fmt.Fprintf(w, "events:     % 10d\n", st.events)
	fmt.Fprintf(w, "banks:      % 10d\n", st.cnt.Banks)
	fmt.Fprintf(w, "decoded:    % 10d\n", st.cnt.Decoded)
	fmt.Fprintf(w, "corrupted:  % 10d (%.2f%%)\n", st.cnt.Corrupted, 100*st.cnt.CorruptionRate())
	fmt.Fprintf(w, "duplicates: % 10d\n", st.cnt.Duplicates)
	fmt.Fprintf(w, "missing:    % 10d\n", st.cnt.Missing)
}

func process(ctx context.Context, oname string, lvl int, cfg config.Config, fnames []string) (stats, error) {
	var st stats

	cond, closeCond, err := conditions(cfg)
	if err != nil {
		return st, err
	}
	defer closeCond()

	proc, err := recon.New(
		cond, cfg.Calos,
		recon.WithLogger(msg),
		recon.WithReadout(cfg.Options(msg)...),
		recon.WithUT(cfg.UT),
	)
	if err != nil {
		return st, fmt.Errorf("could not create event processor: %w", err)
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return st, fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	xw := xcnv.NewWriter(w)
	for _, fname := range fnames {
		n, err := convert(ctx, xw, proc, fname)
		st.events += n
		if err != nil {
			return st, fmt.Errorf("could not convert %q: %w", fname, err)
		}
	}
	st.cnt = proc.Counters()

	err = w.Close()
	if err != nil {
		return st, fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return st, nil
}

func conditions(cfg config.Config) (recon.Conditions, func() error, error) {
	if cfg.CondDB != "" {
		db, err := conddb.Open(cfg.CondDB)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open conditions database: %w", err)
		}
		return db, db.Close, nil
	}

	st, err := recon.LoadStatic(cfg.Detectors, cfg.UTMapping)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load readout maps: %w", err)
	}
	return st, func() error { return nil }, nil
}

func convert(ctx context.Context, w *xcnv.Writer, proc *recon.Processor, fname string) (int, error) {
	f, err := mmap.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("could not open raw file: %w", err)
	}
	defer f.Close()

	var (
		n   int
		dec = rawbank.NewDecoder(f.Reader())
	)
	for {
		var evt rawbank.Event
		err := dec.Decode(&evt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("could not decode raw event: %w", err)
		}

		res, err := proc.Process(ctx, &evt)
		if err != nil {
			return n, err
		}

		err = w.Write(res)
		if err != nil {
			return n, err
		}
		n++
	}
}

func monitor(fname string, freq time.Duration) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}

	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

var sendMail = func(cfg *config.Alert, m *mail.Message) error {
	dial := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return dial.DialAndSend(m)
}

func alert(cfg *config.Alert, st stats, oname string) error {
	m := mail.NewMessage()
	m.SetHeader("From", cfg.From)
	m.SetHeader("Bcc", cfg.To...)
	m.SetHeader("Subject", fmt.Sprintf("[calo2lcio] corruption alert: %q", oname))
	m.SetBody("text/plain", fmt.Sprintf(
		"file:      %q\nevents:    %d\nbanks:     %d\ncorrupted: %d\nrate:      %.4f\nthreshold: %.4f",
		oname, st.events, st.cnt.Banks, st.cnt.Corrupted,
		st.cnt.CorruptionRate(), cfg.Threshold,
	))

	err := sendMail(cfg, m)
	if err != nil {
		return fmt.Errorf("could not send mail: %w", err)
	}
	return nil
}
