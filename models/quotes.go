package models

import "time"

// Quote is the best bid/ask of one option instrument. A zero price means
// the side is not quoted.
type Quote struct {
	Bid     float64   `json:"bid"`
	Ask     float64   `json:"ask"`
	BidSize int       `json:"bid_size"`
	AskSize int       `json:"ask_size"`
	BidTime time.Time `json:"bid_time"`
	AskTime time.Time `json:"ask_time"`
}

func (q Quote) HasBid() bool { return q.Bid > 0 }
func (q Quote) HasAsk() bool { return q.Ask > 0 }

// LastUpdate is the most recent quote timestamp of either side.
func (q Quote) LastUpdate() time.Time {
	if q.AskTime.After(q.BidTime) {
		return q.AskTime
	}
	return q.BidTime
}

// StrikeQuote holds the put (lower leg) and call (upper leg) quoted at one
// strike.
type StrikeQuote struct {
	Strike float64 `json:"strike"`
	Put    Quote   `json:"put"`
	Call   Quote   `json:"call"`
}
