// Package parser turns raw strings read from the catalog into values.
package parser

import "errors"

var (
	ErrNoCount          = errors.New("no item count found")
	ErrBadPageIndicator = errors.New("malformed page indicator")
)

// NotifyMe is the availability label of sizes that are out of stock.
const NotifyMe = "Notify Me"
