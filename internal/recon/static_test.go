// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package recon

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-lpc/lhcb/calo"
)

func writeDetector(t *testing.T, fname string, det *calo.Detector) {
	t.Helper()
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create %q: %+v", fname, err)
	}
	defer f.Close()

	err = det.WriteJSON(f)
	if err != nil {
		t.Fatalf("could not write detector: %+v", err)
	}
	err = f.Close()
	if err != nil {
		t.Fatalf("could not close %q: %+v", fname, err)
	}
}

func TestLoadStatic(t *testing.T) {
	var (
		tmp  = t.TempDir()
		ref  = newStatic(t)
		ecal = filepath.Join(tmp, "ecal.json")
		prs  = filepath.Join(tmp, "prs.json")
		utm  = filepath.Join(tmp, "ut.json")
	)
	writeDetector(t, ecal, ref.Calos[calo.Ecal])
	writeDetector(t, prs, ref.Calos[calo.Prs])
	err := os.WriteFile(utm, []byte(`[{"tell1": 5, "sectors": [33792]}]`), 0644)
	if err != nil {
		t.Fatalf("could not write UT mapping: %+v", err)
	}

	st, err := LoadStatic([]string{ecal, prs}, utm)
	if err != nil {
		t.Fatalf("could not load static conditions: %+v", err)
	}

	ctx := context.Background()
	det, err := st.CaloDetector(ctx, calo.Ecal, 1)
	if err != nil {
		t.Fatalf("could not get Ecal detector: %+v", err)
	}
	if got, want := det.Cards(), ref.Calos[calo.Ecal].Cards(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid Ecal cards:\ngot= %+v\nwant=%+v", got, want)
	}

	spd, err := st.CaloDetector(ctx, calo.Spd, 1)
	if err != nil {
		t.Fatalf("could not get Spd detector: %+v", err)
	}
	if got, want := spd.Calo(), calo.Spd; got != want {
		t.Fatalf("invalid calorimeter: got=%v, want=%v", got, want)
	}

	m, err := st.UTMapping(ctx, 1)
	if err != nil {
		t.Fatalf("could not get UT mapping: %+v", err)
	}
	if got, want := m.Boards(), ref.UT.Boards(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid UT boards:\ngot= %v\nwant=%v", got, want)
	}

	_, err = LoadStatic([]string{ecal, ecal}, "")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), `recon: duplicate Ecal readout map (file="`+ecal+`")`; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}

	st, err = LoadStatic([]string{ecal}, "")
	if err != nil {
		t.Fatalf("could not load static conditions: %+v", err)
	}
	_, err = st.UTMapping(ctx, 1)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "recon: no static UT mapping"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
	_, err = st.CaloDetector(ctx, calo.Spd, 1)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "recon: no static Spd readout map"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}
