// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config describes the configuration of the decoding commands.
package config // import "github.com/go-lpc/lhcb/internal/config"

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/readout"
)

// Config is the configuration of a decoding job.
type Config struct {
	Calos []calo.Name `json:"calos"`

	CondDB    string   `json:"conddb,omitempty"`    // MySQL DSN of the conditions database
	Detectors []string `json:"detectors,omitempty"` // static JSON readout maps
	UTMapping string   `json:"ut_mapping,omitempty"`
	UT        bool     `json:"ut"` // decode the upstream tracker banks

	Readout Readout `json:"readout"`
	Alert   *Alert  `json:"alert,omitempty"`
}

// Readout configures the bank decoders.
type Readout struct {
	CleanWhenCorruption bool `json:"clean_when_corruption"`
	PackedIsDefault     bool `json:"packed_is_default"`
	Optional            bool `json:"optional"`
}

// Alert configures the mail sent when the corruption rate of a job is
// above threshold.
type Alert struct {
	Threshold float64  `json:"threshold"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	User      string   `json:"user,omitempty"`
	Password  string   `json:"password,omitempty"`
	From      string   `json:"from"`
	To        []string `json:"to"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Calos: []calo.Name{calo.Ecal, calo.Hcal, calo.Prs},
		Readout: Readout{
			CleanWhenCorruption: true,
			PackedIsDefault:     true,
		},
	}
}

// Load loads the configuration file fname, on top of the defaults.
func Load(fname string) (Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not open %q: %w", fname, err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode decodes a JSON configuration from r, on top of the defaults.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	err := dec.Decode(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the consistency of the configuration.
func (cfg Config) Validate() error {
	if len(cfg.Calos) == 0 {
		return fmt.Errorf("config: no calorimeter to decode")
	}
	seen := make(map[calo.Name]bool)
	for _, name := range cfg.Calos {
		switch name {
		case calo.Ecal, calo.Hcal, calo.Prs:
		default:
			return fmt.Errorf("config: calorimeter %v has no ADC bank", name)
		}
		if seen[name] {
			return fmt.Errorf("config: duplicate calorimeter %v", name)
		}
		seen[name] = true
	}

	if cfg.CondDB == "" && len(cfg.Detectors) == 0 {
		return fmt.Errorf("config: no conditions source")
	}
	if cfg.CondDB != "" && len(cfg.Detectors) != 0 {
		return fmt.Errorf("config: conditions database and static detectors are exclusive")
	}
	if cfg.UT && cfg.CondDB == "" && cfg.UTMapping == "" {
		return fmt.Errorf("config: no UT mapping")
	}

	if a := cfg.Alert; a != nil {
		if a.Threshold <= 0 || a.Threshold > 1 {
			return fmt.Errorf("config: invalid alert threshold %v", a.Threshold)
		}
		if a.Host == "" || a.From == "" || len(a.To) == 0 {
			return fmt.Errorf("config: incomplete alert mail settings")
		}
	}

	return nil
}

// Options returns the decoder options described by the configuration.
func (cfg Config) Options(msg *log.Logger) []readout.Option {
	opts := []readout.Option{
		readout.WithCleanWhenCorruption(cfg.Readout.CleanWhenCorruption),
		readout.WithPackedIsDefault(cfg.Readout.PackedIsDefault),
		readout.WithOptional(cfg.Readout.Optional),
	}
	if msg != nil {
		opts = append(opts, readout.WithLogger(msg))
	}
	return opts
}
