package features

import (
	"errors"
	"time"
)

const mobileDevice = "mobile"

// Extractor maps transactions to feature vectors. The zero value is not
// usable; construct with NewExtractor.
type Extractor struct {
	loc *time.Location
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLocation sets the zone used to decompose transaction times. Offsets in
// the input are honoured; the instant is converted to loc before the
// calendar fields are read.
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// NewExtractor returns an extractor that decomposes times in UTC unless
// configured otherwise.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{loc: time.UTC}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the zone used for timestamp decomposition.
func (e *Extractor) Location() *time.Location {
	return e.loc
}

// Extract builds the canonical 14-field vector for tx. It is a pure function
// of tx and the extractor location. The only failure is an unparseable time.
func (e *Extractor) Extract(tx *Transaction) (Vector, error) {
	if tx == nil {
		return nil, &ExtractionError{Field: "transaction", Err: errors.New("missing")}
	}

	at, err := ParseTime(tx.Time, e.loc)
	if err != nil {
		return nil, &ExtractionError{Field: "time", Value: tx.Time, Err: err}
	}

	v := make(Vector, Width)
	v[ColAmount] = tx.Amount
	v[ColTransactionType] = float64(Hash(tx.TransactionType))
	v[ColTime] = float64(TimestampCode(at.In(e.loc)))
	v[ColLocation] = float64(Hash(tx.Location))
	v[ColCurrentDeviceID] = float64(Hash(tx.CurrentDeviceID))
	v[ColLastDeviceID] = float64(Hash(tx.LastDeviceID))
	v[ColLastTransactionLocation] = float64(Hash(tx.LastTransactionLocation))
	v[ColLastTransactionAmount] = tx.LastTransactionAmount
	v[ColAccountBalance] = tx.AccountBalance
	v[ColTransactionsInLast24h] = tx.TransactionsInLast24h
	v[ColTimeSinceLastTransaction] = tx.TimeSinceLastTransaction
	v[ColTransactionAmountDifference] = tx.TransactionAmountDifference
	v[ColCurrentDeviceMobile] = indicator(tx.CurrentDevice == mobileDevice)
	v[ColLastDeviceMobile] = indicator(tx.LastDevice == mobileDevice)
	return v, nil
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
