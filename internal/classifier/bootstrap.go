package classifier

// Example is one labelled training row.
type Example struct {
	ID       string    `json:"id"`
	Features []float64 `json:"features"`
	Label    float64   `json:"label"` // 0 legitimate, 1 fraud
}

// Bootstrap constants for columns the seed rows never carried.
const (
	// 2024-01-15T10:30:00 as a timestamp code.
	seedTimeDay = 202411510300
	// 2024-01-16T02:15:00 as a timestamp code.
	seedTimeNight = 20241162150
)

// bootstrap holds the ten seed transactions T001–T010 in the 14-column
// layout: amount, type, time, location, current device id, last device id,
// last location, last amount, balance, tx in 24h, seconds since last tx,
// amount difference, current device mobile, last device mobile.
//
// Categorical columns hold small integer codes rather than hashes. Device
// ids repeat for legitimate rows and change for fraudulent ones. Extracted
// transactions carry 32-bit hashes in those columns, which lie far outside
// the code range the scaler is fitted on, so live inputs are out of the
// training domain for every hashed column.
var bootstrap = []Example{
	{"T001", []float64{500.75, 1, seedTimeDay, 1, 1, 1, 1, 450.0, 2000.0, 3, 3600, 50.75, 1, 1}, 0},
	{"T002", []float64{1500.0, 2, seedTimeNight, 2, 9, 2, 2, 100.0, 5000.0, 1, 7200, 1400.0, 0, 1}, 1},
	{"T003", []float64{30.0, 3, seedTimeDay, 4, 3, 3, 3, 25.0, 100.0, 5, 300, 5.0, 1, 1}, 0},
	{"T004", []float64{7000.0, 4, seedTimeNight, 5, 10, 4, 4, 1000.0, 15000.0, 2, 14400, 6000.0, 0, 1}, 1},
	{"T005", []float64{200.0, 1, seedTimeDay, 1, 1, 1, 1, 500.75, 1500.0, 4, 1800, -300.75, 1, 1}, 0},
	{"T006", []float64{50.0, 7, seedTimeDay, 7, 7, 7, 7, 20.0, 500.0, 3, 3600, 30.0, 0, 0}, 0},
	{"T007", []float64{10000.0, 6, seedTimeNight, 8, 11, 6, 6, 5000.0, 20000.0, 1, 10800, 5000.0, 0, 1}, 1},
	{"T008", []float64{75.5, 2, seedTimeDay, 2, 2, 2, 2, 1500.0, 1500.0, 2, 3600, -1424.5, 1, 1}, 0},
	{"T009", []float64{500.0, 7, seedTimeNight, 10, 12, 10, 10, 2500.0, 10000.0, 1, 5400, -2000.0, 0, 1}, 1},
	{"T010", []float64{20.0, 3, seedTimeDay, 4, 3, 3, 3, 30.0, 80.0, 6, 900, -10.0, 1, 1}, 0},
}

// Bootstrap returns a copy of the embedded seed dataset.
func Bootstrap() []Example {
	out := make([]Example, len(bootstrap))
	for i, ex := range bootstrap {
		f := make([]float64, len(ex.Features))
		copy(f, ex.Features)
		out[i] = Example{ID: ex.ID, Features: f, Label: ex.Label}
	}
	return out
}
