// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

import "log"

type config struct {
	msg      *log.Logger
	clean    bool
	packed   bool
	optional bool
	sink     Sink
}

func newConfig() config {
	return config{
		clean:  true,
		packed: true,
	}
}

// Option configures a Tool.
type Option func(cfg *config)

// WithLogger sets the logger used to report decoding problems.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithCleanWhenCorruption configures whether the entries decoded from a
// corrupted bank are discarded (the default) or kept.
func WithCleanWhenCorruption(v bool) Option {
	return func(cfg *config) {
		cfg.clean = v
	}
}

// WithPackedIsDefault configures whether packed banks are looked up
// before short ones (the default).
func WithPackedIsDefault(v bool) Option {
	return func(cfg *config) {
		cfg.packed = v
	}
}

// WithOptional configures whether an event without any bank is a failure.
func WithOptional(v bool) Option {
	return func(cfg *config) {
		cfg.optional = v
	}
}

// WithStatusSink publishes the status table of every fully decoded event
// to sink.
func WithStatusSink(sink Sink) Option {
	return func(cfg *config) {
		cfg.sink = sink
	}
}
