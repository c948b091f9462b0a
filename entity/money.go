package entity

import (
	"fmt"
	"math"
)

// Amount is a sum of money in minor units (cents).
type Amount int64

func AmountFromFloat(v float64) Amount {
	return Amount(math.Round(v * 100))
}

func (a Amount) Float() float64 {
	return float64(a) / 100
}

// Share returns pct percent of a, rounded half away from zero.
func (a Amount) Share(pct int) Amount {
	v := int64(a) * int64(ClampShare(pct))
	if v < 0 {
		return Amount((v - 50) / 100)
	}
	return Amount((v + 50) / 100)
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ClampShare forces a revenue-share percentage into 0..100.
func ClampShare(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
