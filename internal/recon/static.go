// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recon

import (
	"context"
	"fmt"
	"os"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/ut"
)

// Static holds readout conditions valid for all runs.
type Static struct {
	Calos map[calo.Name]*calo.Detector
	UT    *ut.Mapping
}

// LoadStatic loads the JSON readout maps of the calorimeters from the
// provided files, and the one of the upstream tracker if utFile is not
// empty.
func LoadStatic(files []string, utFile string) (*Static, error) {
	st := &Static{
		Calos: make(map[calo.Name]*calo.Detector, len(files)),
	}
	for _, fname := range files {
		det, err := readDetector(fname)
		if err != nil {
			return nil, err
		}
		if _, dup := st.Calos[det.Calo()]; dup {
			return nil, fmt.Errorf("recon: duplicate %v readout map (file=%q)", det.Calo(), fname)
		}
		st.Calos[det.Calo()] = det
	}

	if utFile != "" {
		f, err := os.Open(utFile)
		if err != nil {
			return nil, fmt.Errorf("recon: could not open UT mapping: %w", err)
		}
		defer f.Close()

		st.UT, err = ut.ReadMapping(f)
		if err != nil {
			return nil, fmt.Errorf("recon: could not read UT mapping %q: %w", utFile, err)
		}
	}

	return st, nil
}

func readDetector(fname string) (*calo.Detector, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("recon: could not open readout map: %w", err)
	}
	defer f.Close()

	det, err := calo.ReadDetector(f)
	if err != nil {
		return nil, fmt.Errorf("recon: could not read readout map %q: %w", fname, err)
	}
	return det, nil
}

// CaloDetector returns the readout map of calorimeter name.
func (st *Static) CaloDetector(ctx context.Context, name calo.Name, run uint32) (*calo.Detector, error) {
	det, ok := st.Calos[name]
	if !ok {
		if prs, ok := st.Calos[calo.Prs]; ok && name == calo.Spd {
			return prs.ForCalo(calo.Spd)
		}
		return nil, fmt.Errorf("recon: no static %v readout map", name)
	}
	return det, nil
}

// UTMapping returns the readout map of the upstream tracker.
func (st *Static) UTMapping(ctx context.Context, run uint32) (*ut.Mapping, error) {
	if st.UT == nil {
		return nil, fmt.Errorf("recon: no static UT mapping")
	}
	return st.UT, nil
}

var (
	_ Conditions   = (*Static)(nil)
	_ UTConditions = (*Static)(nil)
)
