// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to retrieve the readout maps and calibration
// constants of the LHCb calorimeters and upstream tracker, per run, from the
// conditions database.
package conddb // import "github.com/go-lpc/lhcb/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/ut"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"golang.org/x/exp/slices"
)

var drvName = "mysql"

const timeout = 5 * time.Second

// DB exposes convenience methods to easily retrieve conditions data
// from the conditions database.
type DB struct {
	db   *sqlx.DB
	name string // name of the conditions database
}

// Open opens a connection to the conditions database described by the
// MySQL data source name dsn, e.g. "user:pwd@tcp(localhost:3306)/lhcb".
func Open(dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not parse DSN: %w", err)
	}
	dbname := cfg.DBName

	db, err := sqlx.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func ping(db *sqlx.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

// Name returns the name of the conditions database.
func (db *DB) Name() string { return db.name }

func (db *DB) Close() error {
	return db.db.Close()
}

// Tags holds the conditions versions valid from a run on.
type Tags struct {
	Run  uint32 `db:"run"`
	Calo string `db:"calo"`
	UT   string `db:"ut"`
}

// LastRun returns the last run registered in the conditions database.
func (db *DB) LastRun(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var run uint32
	err := db.db.GetContext(ctx, &run, "SELECT run FROM runs ORDER BY run DESC LIMIT 1")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("conddb: no run in %q db", db.name)
		}
		return 0, fmt.Errorf("conddb: could not query last run: %w", err)
	}

	return run, nil
}

// Tags returns the conditions versions valid for run.
func (db *DB) Tags(ctx context.Context, run uint32) (Tags, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var tags Tags
	err := db.db.GetContext(
		ctx, &tags,
		"SELECT run, calo, ut FROM runs WHERE run<=? ORDER BY run DESC LIMIT 1",
		run,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tags, fmt.Errorf("conddb: no conditions for run %d", run)
		}
		return tags, fmt.Errorf("conddb: could not query tags of run %d: %w", run, err)
	}

	return tags, nil
}

type cardChannel struct {
	calo.Card
	Index int         `db:"idx"`
	Cell  calo.CellID `db:"cell"`
}

// CaloDetector returns the readout map and calibration of calorimeter name,
// valid for run.
// The Spd readout map is the one of the preshower.
func (db *DB) CaloDetector(ctx context.Context, name calo.Name, run uint32) (*calo.Detector, error) {
	if name == calo.Spd {
		prs, err := db.CaloDetector(ctx, calo.Prs, run)
		if err != nil {
			return nil, err
		}
		return prs.ForCalo(calo.Spd)
	}

	tags, err := db.Tags(ctx, run)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rows []cardChannel
	err = db.db.SelectContext(
		ctx, &rows,
		`
SELECT cards.card, cards.code, cards.tell1, cards.crate, cards.slot,
       channels.idx, channels.cell
FROM calo_cards AS cards
JOIN calo_channels AS channels ON (
	channels.version=cards.version AND channels.card=cards.card
)
WHERE (
	cards.version=? AND cards.calo=?
)
ORDER BY cards.tell1, cards.slot, channels.idx
`,
		tags.Calo, name.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query %v cards (version=%q): %w", name, tags.Calo, err)
	}

	var cards []calo.Card
	for _, row := range rows {
		if row.Index < 0 || row.Index >= calo.MaxCardChannels {
			return nil, fmt.Errorf(
				"conddb: card %d has an invalid channel index %d",
				row.ID, row.Index,
			)
		}
		i := slices.IndexFunc(cards, func(c calo.Card) bool { return c.ID == row.ID })
		if i < 0 {
			card := row.Card
			card.Channels = nil
			cards = append(cards, card)
			i = len(cards) - 1
		}
		card := &cards[i]
		if n := row.Index + 1; n > len(card.Channels) {
			card.Channels = append(card.Channels, make([]calo.CellID, n-len(card.Channels))...)
		}
		card.Channels[row.Index] = row.Cell
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("conddb: no %v cards (version=%q)", name, tags.Calo)
	}

	var calib []calo.Calib
	err = db.db.SelectContext(
		ctx, &calib,
		"SELECT cell, pedestal, gain FROM calo_calib WHERE (version=? AND calo=?)",
		tags.Calo, name.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query %v calibration (version=%q): %w", name, tags.Calo, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving %v conditions: %w", name, err)
	}

	det, err := calo.NewDetector(name, cards, calib)
	if err != nil {
		return nil, fmt.Errorf("conddb: invalid %v conditions (version=%q): %w", name, tags.Calo, err)
	}
	return det, nil
}

type boardSector struct {
	Tell1  int          `db:"tell1"`
	Index  int          `db:"idx"`
	Sector ut.ChannelID `db:"sector"`
}

// UTMapping returns the readout map of the upstream tracker, valid for run.
func (db *DB) UTMapping(ctx context.Context, run uint32) (*ut.Mapping, error) {
	tags, err := db.Tags(ctx, run)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rows []boardSector
	err = db.db.SelectContext(
		ctx, &rows,
		"SELECT tell1, idx, sector FROM ut_boards WHERE version=? ORDER BY tell1, idx",
		tags.UT,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query UT boards (version=%q): %w", tags.UT, err)
	}

	var boards []ut.Board
	for _, row := range rows {
		n := len(boards)
		if n == 0 || boards[n-1].Tell1 != row.Tell1 {
			boards = append(boards, ut.Board{Tell1: row.Tell1})
			n++
		}
		b := &boards[n-1]
		if row.Index != len(b.Sectors) {
			return nil, fmt.Errorf(
				"conddb: board %d has a non-contiguous sector index %d",
				row.Tell1, row.Index,
			)
		}
		b.Sectors = append(b.Sectors, row.Sector)
	}

	m, err := ut.NewMapping(boards)
	if err != nil {
		return nil, fmt.Errorf("conddb: invalid UT mapping (version=%q): %w", tags.UT, err)
	}
	return m, nil
}
