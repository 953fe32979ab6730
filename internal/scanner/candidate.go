// Package scanner implements the two-phase candidate scanner: a cheap
// daily pre-filter followed by a focused hourly scorer, grounded on the
// reference signal engine's score_signal/run_scan and structure-aware
// routing additions.
package scanner

import "time"

// ExecMode is the execution routing mode assigned to a scored candidate.
type ExecMode string

const (
	ModeStruct ExecMode = "STRUCT"
	ModeMR     ExecMode = "MR"
	ModeSkip   ExecMode = "SKIP"
)

// StructurePayload carries up to two structure signals plus the chosen
// best, attached to a candidate when the structure detector fires.
type StructurePayload struct {
	Entry         float64
	SL            float64
	TP            float64
	RR            float64
	BreakoutLevel float64
	Type          string // "1buy" or "2buy"
}

// Candidate is one scored bar emitted by the scanner.
type Candidate struct {
	Symbol        string
	BarTimestamp  time.Time
	BarClose      float64

	Score      int
	ExecMode   ExecMode
	ExecReason string

	SuggestedSL float64
	SuggestedTP float64
	RRRatio     float64

	SuggestedEntry float64
	SuggestNote    string

	RSI14       float64
	BBPct20     float64
	MACDHist    float64
	VolRatio    float64
	Ret5D       float64
	ATRPct14    float64
	AboveMA200  bool
	AboveMA50   bool
	RS1Y        float64

	// DollarVol20D is the 20-day average daily dollar volume (close *
	// 20-day average volume) as of the most recent daily bar, used by
	// the router's liquidity precondition.
	DollarVol20D float64

	Structure   *StructurePayload
	PriceSource string

	Details  []string
	Warnings []string
}

// IsStrong reports whether a candidate is "strong": score >= 85 or STRUCT
// mode, the set that feeds the execution router's strong-signal path.
func (c Candidate) IsStrong() bool {
	return c.Score >= 85 || c.ExecMode == ModeStruct
}
