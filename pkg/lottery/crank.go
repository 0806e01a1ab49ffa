package lottery

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCrankInterval is one calendar day.
const DefaultCrankInterval = 24 * time.Hour

// CheckCrank applies the crank window. A caller with no previous crank is
// always eligible; otherwise now-last must be at least interval. Exactly one
// interval after the last crank is allowed.
func CheckCrank(identity common.Address, last time.Time, seen bool, now time.Time, interval time.Duration) error {
	if !seen {
		return nil
	}
	if now.Sub(last) < interval {
		return &TooSoonError{
			Identity: identity.Hex(),
			Last:     last,
			Next:     last.Add(interval),
			Now:      now,
		}
	}
	return nil
}
