package domain

// BPReading is a single blood-pressure measurement pushed by the monitor service.
type BPReading struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
	HeartRate int `json:"heart_rate"`
}

// Prediction is a risk assessment derived from recent readings.
type Prediction struct {
	Prediction     string  `json:"prediction"`
	RiskLevel      string  `json:"risk_level"`
	Probability    float64 `json:"probability"`
	Recommendation string  `json:"recommendation"`
	BPCategory     string  `json:"bp_category"`
}
