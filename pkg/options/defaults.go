package options

const (
	// DefaultTSLength is the default fixed series length ("L") for a newly
	// created database.
	DefaultTSLength = 100

	// DefaultDataDir is the default base directory under which database
	// subdirectories are created.
	DefaultDataDir = "/var/lib/tsisax"

	// DefaultDBName is the default subdirectory name under DataDir.
	DefaultDBName = "default"

	// DefaultFlushEvery is the default number of PrimaryIndex mutations
	// between automatic WAL snapshot+truncate cycles.
	DefaultFlushEvery = 10

	// DefaultMetaStringMaxLen is the default fixed byte length for string
	// metadata fields that don't declare their own length.
	DefaultMetaStringMaxLen = 256

	// DefaultSAXWordLength is the default iSAX word length ("w"). Must
	// evenly divide TSLength; 100/4 matches the seed scenario in spec §8.
	DefaultSAXWordLength = 4

	// DefaultSAXCardinality is the default SAX alphabet cardinality ("c").
	DefaultSAXCardinality = 4

	// DefaultSAXTerminalThreshold is the default iSAX terminal node capacity.
	DefaultSAXTerminalThreshold = 100

	// DefaultVPInitialCutoff is the default starting triangle-inequality
	// cutoff for vantage-point search.
	DefaultVPInitialCutoff = 0.25

	// DefaultVPMaxDoublings bounds how many times the cutoff may double.
	DefaultVPMaxDoublings = 12
)

// defaultOptions holds the default configuration settings for a database
// instance.
var defaultOptions = Options{
	TSLength:         DefaultTSLength,
	DataDir:          DefaultDataDir,
	DBName:           DefaultDBName,
	FlushEvery:       DefaultFlushEvery,
	MetaStringMaxLen: DefaultMetaStringMaxLen,
	SAX: SAXOptions{
		WordLength:        DefaultSAXWordLength,
		Cardinality:       DefaultSAXCardinality,
		TerminalThreshold: DefaultSAXTerminalThreshold,
	},
	VP: VPOptions{
		InitialCutoff: DefaultVPInitialCutoff,
		MaxDoublings:  DefaultVPMaxDoublings,
	},
}
