// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command calo-tdaq starts a TDAQ process decoding the raw events received
// on its /raw input port.
//
// The path to the JSON configuration of the decoders is sent with the
// /config command.
// A summary of every decoded event is published on the /summary output
// port.
package main // import "github.com/go-lpc/lhcb/cmd/calo-tdaq"

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/lhcb/conddb"
	"github.com/go-lpc/lhcb/internal/config"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/rawbank"
)

func main() {
	cmd := flags.New()

	dev := newDevice()

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.InputHandle("/raw", dev.raw)
	srv.OutputHandle("/summary", dev.summary)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type device struct {
	mu   sync.Mutex
	cfg  config.Config
	cond recon.Conditions
	done func() error // releases the conditions
	proc *recon.Processor

	n    int
	msg  *log.Logger
	data chan []byte
}

func newDevice() *device {
	return &device{
		cfg:  config.Default(),
		done: func() error { return nil },
		msg:  log.New(os.Stdout, "calo-tdaq: ", 0),
	}
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
	fname := dec.ReadStr()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("could not decode /config request: %w", err)
	}

	cfg, err := config.Load(fname)
	if err != nil {
		ctx.Msg.Errorf("could not load configuration %q: %+v", fname, err)
		return fmt.Errorf("could not load configuration %q: %w", fname, err)
	}
	dev.cfg = cfg
	return nil
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.close()
	if err != nil {
		return err
	}

	err = dev.cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch {
	case dev.cfg.CondDB != "":
		db, err := conddb.Open(dev.cfg.CondDB)
		if err != nil {
			return fmt.Errorf("could not open conditions database: %w", err)
		}
		dev.cond = db
		dev.done = db.Close
	default:
		st, err := recon.LoadStatic(dev.cfg.Detectors, dev.cfg.UTMapping)
		if err != nil {
			return fmt.Errorf("could not load readout maps: %w", err)
		}
		dev.cond = st
	}

	dev.proc, err = recon.New(
		dev.cond, dev.cfg.Calos,
		recon.WithLogger(dev.msg),
		recon.WithReadout(dev.cfg.Options(dev.msg)...),
		recon.WithUT(dev.cfg.UT),
	)
	if err != nil {
		return fmt.Errorf("could not create event processor: %w", err)
	}

	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.n = 0
	dev.proc = nil
	dev.data = make(chan []byte, 1024)
	return dev.close()
}

func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.proc == nil {
		return fmt.Errorf("could not start: device not initialized")
	}
	return nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	n := dev.n
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	if dev.proc != nil {
		cnt := dev.proc.Counters()
		ctx.Msg.Infof(
			"banks=%d decoded=%d corrupted=%d (rate=%.4f) missing=%d",
			cnt.Banks, cnt.Decoded, cnt.Corrupted, cnt.CorruptionRate(), cnt.Missing,
		)
	}
	return nil
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()

	return dev.close()
}

func (dev *device) close() error {
	done := dev.done
	dev.cond = nil
	dev.done = func() error { return nil }
	err := done()
	if err != nil {
		return fmt.Errorf("could not close conditions: %w", err)
	}
	return nil
}

func (dev *device) raw(ctx tdaq.Context, src tdaq.Frame) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.proc == nil {
		return fmt.Errorf("could not decode raw event: device not initialized")
	}

	var evt rawbank.Event
	err := rawbank.NewDecoder(bytes.NewReader(src.Body)).Decode(&evt)
	if err != nil {
		ctx.Msg.Errorf("could not decode raw event: %+v", err)
		return fmt.Errorf("could not decode raw event: %w", err)
	}

	res, err := dev.proc.Process(ctx.Ctx, &evt)
	if err != nil {
		return fmt.Errorf("could not process raw event: %w", err)
	}
	dev.n++

	raw, err := summaryFrom(res).MarshalTDAQ()
	if err != nil {
		return fmt.Errorf("could not encode summary of event %d: %w", evt.Number, err)
	}

	select {
	case dev.data <- raw:
	default:
		ctx.Msg.Warnf("summary queue full: dropping event %d", evt.Number)
	}
	return nil
}

func (dev *device) summary(ctx tdaq.Context, dst *tdaq.Frame) error {
	dev.mu.Lock()
	ch := dev.data
	dev.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-ch:
		dst.Body = data
	}
	return nil
}
