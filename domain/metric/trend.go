package metric

// Direction of a series from its first to its last point
type Direction string

const (
	DirectionUp           Direction = "up"
	DirectionDown         Direction = "down"
	DirectionFlat         Direction = "flat"
	DirectionInsufficient Direction = "insufficient_data"
)

// Volatility bands relative to the series mean
type Volatility string

const (
	VolatilityHigh     Volatility = "high"
	VolatilityModerate Volatility = "moderate"
	VolatilityLow      Volatility = "low"
)

// Extremum is a value and the period index it occurred at
type Extremum struct {
	Value       float64 `json:"value"`
	PeriodIndex int     `json:"period_index"`
	Period      string  `json:"period,omitempty"`
}

// TrendSummary describes one metric's time series
type TrendSummary struct {
	Metric               string     `json:"metric"`
	Direction            Direction  `json:"direction"`
	ChangePct            *float64   `json:"change_pct,omitempty"`
	Mean                 float64    `json:"mean"`
	Stdev                float64    `json:"stdev"`
	Volatility           Volatility `json:"volatility,omitempty"`
	AnomalyPeriodIndices []int      `json:"anomaly_period_indices"`
	Peak                 *Extremum  `json:"peak,omitempty"`
	Low                  *Extremum  `json:"low,omitempty"`
	Points               int        `json:"points"`
	// Source is "observed" for evaluated periods or "forecast" for a
	// smoothed series.
	Source string `json:"source"`
}
