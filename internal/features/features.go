// Package features turns a raw transaction into the fixed-width numeric
// vector the fraud classifier is trained on.
//
// The column order is a contract shared with the classifier's bootstrap
// dataset. Changing it invalidates every trained model.
package features

import "fmt"

// Transaction is a single payment submitted for scoring. All fields are
// required; the extractor never substitutes defaults.
type Transaction struct {
	Amount                      float64 `json:"amount"`
	UserID                      string  `json:"userId"`
	TransactionType             string  `json:"transactionType"`
	Time                        string  `json:"time"` // ISO-8601
	Location                    string  `json:"location"`
	CurrentDevice               string  `json:"currentDevice"` // "mobile", "desktop", ...
	CurrentDeviceID             string  `json:"currentDeviceId"`
	LastDevice                  string  `json:"lastDevice"`
	LastDeviceID                string  `json:"lastDeviceId"`
	LastTransactionLocation     string  `json:"lastTransactionLocation"`
	LastTransactionAmount       float64 `json:"lastTransactionAmount"`
	UserAge                     float64 `json:"userAge"`
	AccountBalance              float64 `json:"accountBalance"`
	TransactionsInLast24h       float64 `json:"transactionsInLast24h"`
	TimeSinceLastTransaction    float64 `json:"timeSinceLastTransaction"` // seconds
	TransactionAmountDifference float64 `json:"transactionAmountDifference"`
}

// Vector is an ordered feature vector of length Width.
type Vector []float64

// Column positions of the canonical 14-field schema.
const (
	ColAmount = iota
	ColTransactionType
	ColTime
	ColLocation
	ColCurrentDeviceID
	ColLastDeviceID
	ColLastTransactionLocation
	ColLastTransactionAmount
	ColAccountBalance
	ColTransactionsInLast24h
	ColTimeSinceLastTransaction
	ColTransactionAmountDifference
	ColCurrentDeviceMobile
	ColLastDeviceMobile

	// Width is the number of columns every Vector carries.
	Width
)

var fieldNames = [Width]string{
	ColAmount:                      "amount",
	ColTransactionType:             "transactionType",
	ColTime:                        "time",
	ColLocation:                    "location",
	ColCurrentDeviceID:             "currentDeviceId",
	ColLastDeviceID:                "lastDeviceId",
	ColLastTransactionLocation:     "lastTransactionLocation",
	ColLastTransactionAmount:       "lastTransactionAmount",
	ColAccountBalance:              "accountBalance",
	ColTransactionsInLast24h:       "transactionsInLast24h",
	ColTimeSinceLastTransaction:    "timeSinceLastTransaction",
	ColTransactionAmountDifference: "transactionAmountDifference",
	ColCurrentDeviceMobile:         "currentDeviceMobile",
	ColLastDeviceMobile:            "lastDeviceMobile",
}

// FieldNames returns the column names in vector order.
func FieldNames() []string {
	names := make([]string, Width)
	copy(names, fieldNames[:])
	return names
}

// ExtractionError reports a transaction field that could not be mapped to a
// feature value.
type ExtractionError struct {
	Field string
	Value string
	Err   error
}

func (e *ExtractionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("extract %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("extract %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
