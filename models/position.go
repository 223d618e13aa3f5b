package models

import "time"

// PositionStrike is the signed open quantity of the put and call at one
// strike plus the cash already realised on them.
type PositionStrike struct {
	Strike float64 `json:"strike"`
	Put    float64 `json:"put"`
	Call   float64 `json:"call"`
	Cash   float64 `json:"cash"`
}

// Position is read by the greek estimator and never mutated by it.
type Position struct {
	Symbol  string           `json:"symbol"`
	Expiry  time.Time        `json:"expiry"`
	Strikes []PositionStrike `json:"strikes"`
}

func (p Position) Empty() bool {
	for _, s := range p.Strikes {
		if s.Put != 0 || s.Call != 0 {
			return false
		}
	}
	return true
}
