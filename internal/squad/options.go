package squad

// Options are the data and answer-extraction settings of a run.
type Options struct {
	BertModel      string
	MaxSeqLength   int
	DocStride      int
	MaxQueryLength int
	DoLowerCase    bool

	Version2WithNegative   bool
	NullScoreDiffThreshold float64
	NBestSize              int
	MaxAnswerLength        int
	VerboseLogging         bool

	SkipCache bool
	CacheDir  string // Defaults to the directory of the train file
}

// DefaultOptions returns the defaults of the reference driver.
func DefaultOptions() Options {
	return Options{
		MaxSeqLength:    384,
		DocStride:       128,
		MaxQueryLength:  64,
		NBestSize:       20,
		MaxAnswerLength: 30,
	}
}
