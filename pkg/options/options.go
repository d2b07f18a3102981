// Package options provides data structures and functions for configuring the
// database. It defines the parameters that control on-disk layout, WAL flush
// cadence, and the iSAX / vantage-point similarity-search engines, such as
// directory paths, series length, and tree fan-out.
package options

import (
	"strings"
)

// SAXOptions configures the symbolic-aggregate-approximation encoder and the
// iSAX tree built on top of it.
type SAXOptions struct {
	// WordLength is the number of PAA segments ("w"); must divide TSLength.
	//
	// Default: 4
	WordLength int `json:"wordLength"`

	// Cardinality is the alphabet size ("c"); must be a power of two.
	//
	// Default: 4
	Cardinality int `json:"cardinality"`

	// TerminalThreshold is the maximum number of entries an iSAX terminal
	// node holds before it attempts to split.
	//
	// Default: 100
	TerminalThreshold int `json:"terminalThreshold"`
}

// VPOptions configures the vantage-point similarity engine.
type VPOptions struct {
	// InitialCutoff is the starting triangle-inequality cutoff (tau) used by
	// vp_similarity_search before it starts doubling in search of `top`
	// candidates.
	//
	// Default: 0.25
	InitialCutoff float64 `json:"initialCutoff"`

	// MaxDoublings bounds how many times the cutoff may double before the
	// search gives up and returns whatever candidates it has.
	//
	// Default: 12
	MaxDoublings int `json:"maxDoublings"`
}

// Options defines the configuration parameters for a database instance. It
// provides control over on-disk layout, durability cadence, and the
// similarity-search subsystems built on top of the primary store.
type Options struct {
	// TSLength is the database-wide fixed series length ("L"). It is written
	// into the TSHeap header on creation and validated against on every
	// subsequent open.
	//
	// Default: 100
	TSLength int `json:"tsLength"`

	// DataDir is the root directory under which every database's
	// subdirectory lives.
	//
	// Default: "/var/lib/tsisax"
	DataDir string `json:"dataDir"`

	// DBName is the subdirectory under DataDir holding this database's files.
	//
	// Default: "default"
	DBName string `json:"dbName"`

	// FlushEvery is the number of PrimaryIndex mutations between automatic
	// WAL snapshot+truncate cycles.
	//
	// Default: 10
	FlushEvery int `json:"flushEvery"`

	// MetaStringMaxLen is the default maximum byte length for fixed-size
	// string metadata fields that don't specify their own length.
	//
	// Default: 256
	MetaStringMaxLen int `json:"metaStringMaxLen"`

	// SAX configures the symbolic encoder and the iSAX tree.
	SAX SAXOptions `json:"sax"`

	// VP configures the vantage-point similarity engine.
	VP VPOptions `json:"vp"`
}

// OptionFunc is a function type that modifies the database's configuration.
type OptionFunc func(*Options)

// NewDefaultOptions returns a copy of the default configuration settings for
// a database instance.
func NewDefaultOptions() Options {
	return defaultOptions
}

// New builds an Options value by applying opts in order on top of the
// default configuration.
func New(opts ...OptionFunc) Options {
	o := NewDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDefaultOptions resets every field to its default value.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithTSLength sets the database-wide fixed series length.
func WithTSLength(length int) OptionFunc {
	return func(o *Options) {
		if length > 0 {
			o.TSLength = length
		}
	}
}

// WithDataDir sets the root directory for database files.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithDBName sets the subdirectory name for this database instance.
func WithDBName(name string) OptionFunc {
	return func(o *Options) {
		name = strings.TrimSpace(name)
		if name != "" {
			o.DBName = name
		}
	}
}

// WithFlushEvery sets the WAL snapshot cadence, in operations.
func WithFlushEvery(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.FlushEvery = n
		}
	}
}

// WithSAX overrides the SAX/iSAX parameters.
func WithSAX(sax SAXOptions) OptionFunc {
	return func(o *Options) {
		if sax.WordLength > 0 {
			o.SAX.WordLength = sax.WordLength
		}
		if sax.Cardinality > 0 {
			o.SAX.Cardinality = sax.Cardinality
		}
		if sax.TerminalThreshold > 0 {
			o.SAX.TerminalThreshold = sax.TerminalThreshold
		}
	}
}

// WithVPCutoff sets the vantage-point triangle-inequality starting cutoff.
func WithVPCutoff(cutoff float64) OptionFunc {
	return func(o *Options) {
		if cutoff > 0 {
			o.VP.InitialCutoff = cutoff
		}
	}
}
