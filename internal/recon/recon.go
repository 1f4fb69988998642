// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recon drives the decoding of the calorimeter and upstream tracker
// banks of raw events.
package recon // import "github.com/go-lpc/lhcb/internal/recon"

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/caloraw"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
	"github.com/go-lpc/lhcb/ut"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// Conditions provides the readout conditions of the calorimeters.
type Conditions interface {
	CaloDetector(ctx context.Context, name calo.Name, run uint32) (*calo.Detector, error)
}

// UTConditions provides the readout conditions of the upstream tracker.
type UTConditions interface {
	UTMapping(ctx context.Context, run uint32) (*ut.Mapping, error)
}

// Result is the decoded content of one raw event.
type Result struct {
	Run   uint32
	Event uint64
	Calos []Calo
	UT    *Tracker // nil unless the upstream tracker is decoded
}

// Calo is the decoded content of one calorimeter.
type Calo struct {
	Name   calo.Name
	Adcs   []calo.Adc
	Pins   []calo.Adc
	Digits []calo.Digit
	L0     []calo.L0Adc  // Ecal and Hcal
	Prs    []calo.CellID // Prs trigger bits
	Spd    []calo.CellID // Spd trigger bits

	Range    calo.Range
	PinRange calo.Range

	Status     *readout.Status // ADC banks
	TrigStatus *readout.Status // trigger banks
}

// Tracker is the decoded content of the upstream tracker.
type Tracker struct {
	Clusters []ut.Cluster
	Status   *readout.Status
}

// Processor decodes raw events.
// A Processor is not safe for concurrent use.
type Processor struct {
	cond Conditions
	cfg  config

	init bool
	run  uint32
	sets []*toolSet
	ut   *ut.Decoder
}

// New creates a processor decoding the calorimeters calos, with their
// readout conditions provided by cond.
func New(cond Conditions, calos []calo.Name, opts ...Option) (*Processor, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.ut {
		if _, ok := cond.(UTConditions); !ok {
			return nil, fmt.Errorf("recon: conditions %T provide no UT mapping", cond)
		}
	}

	p := &Processor{
		cond: cond,
		cfg:  cfg,
		sets: make([]*toolSet, len(calos)),
	}
	for i, name := range calos {
		switch name {
		case calo.Ecal, calo.Hcal, calo.Prs:
		default:
			return nil, fmt.Errorf("recon: calorimeter %v can not be decoded", name)
		}
		if slices.Contains(calos[:i], name) {
			return nil, fmt.Errorf("recon: duplicate calorimeter %v", name)
		}
		p.sets[i] = &toolSet{name: name}
	}

	return p, nil
}

// Run returns the run of the current readout conditions.
func (p *Processor) Run() uint32 { return p.run }

// Counters returns the counters accumulated by all the decoders.
func (p *Processor) Counters() readout.Counters {
	var sum readout.Counters
	for _, set := range p.sets {
		for _, t := range set.tools() {
			sum.Add(*t.Counters())
		}
	}
	if p.ut != nil {
		sum.Add(*p.ut.Counters())
	}
	return sum
}

// Process decodes evt, refreshing the readout conditions when evt starts
// a new run.
func (p *Processor) Process(ctx context.Context, evt *rawbank.Event) (*Result, error) {
	if !p.init || evt.Run != p.run {
		err := p.load(ctx, evt.Run)
		if err != nil {
			return nil, fmt.Errorf("recon: could not load conditions of run %d: %w", evt.Run, err)
		}
	}

	for _, set := range p.sets {
		for _, t := range set.tools() {
			t.OnNewEvent(evt)
		}
	}
	if p.ut != nil {
		p.ut.OnNewEvent(evt)
	}

	res := &Result{
		Run:   evt.Run,
		Event: evt.Number,
		Calos: make([]Calo, len(p.sets)),
	}

	grp, ctx := errgroup.WithContext(ctx)
	for i := range p.sets {
		ii := i
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res.Calos[ii] = p.sets[ii].decode()
			return nil
		})
	}
	if p.ut != nil {
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res.UT = &Tracker{
				Clusters: slices.Clone(p.ut.Clusters()),
				Status:   p.ut.Status().Clone(),
			}
			return nil
		})
	}

	err := grp.Wait()
	if err != nil {
		return nil, fmt.Errorf("recon: could not decode event %d: %w", evt.Number, err)
	}

	return res, nil
}

func (p *Processor) load(ctx context.Context, run uint32) error {
	p.cfg.msg.Printf("loading conditions of run %d...", run)
	for _, set := range p.sets {
		det, err := p.cond.CaloDetector(ctx, set.name, run)
		if err != nil {
			return err
		}
		err = set.setGeometry(det, p.cfg.opts)
		if err != nil {
			return err
		}
	}

	if p.cfg.ut {
		m, err := p.cond.(UTConditions).UTMapping(ctx, run)
		if err != nil {
			return err
		}
		if p.ut == nil {
			p.ut = ut.NewDecoder(m, p.cfg.opts...)
		} else {
			p.ut.SetMapping(m)
		}
	}

	p.init = true
	p.run = run
	return nil
}

// toolSet is the set of decoders of one calorimeter.
// A toolSet is used by a single goroutine at a time.
type toolSet struct {
	name   calo.Name
	energy *caloraw.EnergyFromRaw
	l0     *caloraw.TriggerAdcsFromRaw // Ecal and Hcal
	bits   *caloraw.TriggerBitsFromRaw // Prs
}

func (set *toolSet) tools() []*readout.Tool {
	var tools []*readout.Tool
	if set.energy != nil {
		tools = append(tools, set.energy.Tool)
	}
	if set.l0 != nil {
		tools = append(tools, set.l0.Tool)
	}
	if set.bits != nil {
		tools = append(tools, set.bits.Tool)
	}
	return tools
}

func (set *toolSet) setGeometry(det *calo.Detector, opts []readout.Option) error {
	if set.energy != nil {
		err := set.energy.SetGeometry(det)
		if err != nil {
			return err
		}
		if set.l0 != nil {
			return set.l0.SetGeometry(det)
		}
		return set.bits.SetGeometry(det)
	}

	var err error
	set.energy, err = caloraw.NewEnergyFromRaw(det, opts...)
	if err != nil {
		return err
	}
	switch set.name {
	case calo.Prs:
		set.bits, err = caloraw.NewTriggerBitsFromRaw(det, opts...)
	default:
		set.l0, err = caloraw.NewTriggerAdcsFromRaw(det, opts...)
	}
	return err
}

func (set *toolSet) decode() Calo {
	out := Calo{
		Name:   set.name,
		Adcs:   slices.Clone(set.energy.Adcs()),
		Digits: slices.Clone(set.energy.Digits()),
		Pins:   slices.Clone(set.energy.PinAdcs()),
		Status: set.energy.Status().Clone(),
	}
	out.Range, out.PinRange = set.energy.Ranges()

	switch {
	case set.l0 != nil:
		out.L0 = slices.Clone(set.l0.Adcs())
		out.TrigStatus = set.l0.Status().Clone()
	case set.bits != nil:
		out.Prs = slices.Clone(set.bits.Prs())
		out.Spd = slices.Clone(set.bits.Spd())
		out.TrigStatus = set.bits.Status().Clone()
	}
	return out
}

type config struct {
	msg  *log.Logger
	opts []readout.Option
	ut   bool
}

func newConfig() config {
	return config{
		msg: log.New(os.Stdout, "recon: ", 0),
	}
}

// Option configures a Processor.
type Option func(cfg *config)

// WithLogger sets the logger of the processor.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithReadout sets the options of all the bank decoders.
func WithReadout(opts ...readout.Option) Option {
	return func(cfg *config) {
		cfg.opts = append(cfg.opts, opts...)
	}
}

// WithUT enables the decoding of the upstream tracker banks.
func WithUT(v bool) Option {
	return func(cfg *config) {
		cfg.ut = v
	}
}
