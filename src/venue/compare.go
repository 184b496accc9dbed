package venue

import "orderengine/src/model"

// CompareQuotes returns the quote with the strictly greater estimated output.
// Ties go to the lower fee, then to the lexicographically smaller venue name,
// so the result never depends on argument order.
func CompareQuotes(a, b model.Quote) model.Quote {
	switch {
	case a.EstimatedOutput > b.EstimatedOutput:
		return a
	case b.EstimatedOutput > a.EstimatedOutput:
		return b
	case a.Fee < b.Fee:
		return a
	case b.Fee < a.Fee:
		return b
	case a.Venue <= b.Venue:
		return a
	default:
		return b
	}
}
