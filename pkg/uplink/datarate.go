package uplink

import "fmt"

// DataRate is a sweep level. Level 1 is the fastest (SF7), level 6 the
// slowest (SF12).
type DataRate uint8

const (
	SF7 DataRate = iota + 1
	SF8
	SF9
	SF10
	SF11
	SF12
)

// Levels is the number of sweep levels.
const Levels = 6

// DataRateFromSpreadingFactor returns the level of a spreading factor.
func DataRateFromSpreadingFactor(sf int) (DataRate, error) {
	dr := DataRate(sf - 6)
	if sf < 7 || !dr.Valid() {
		return 0, fmt.Errorf("invalid spreading factor %d", sf)
	}
	return dr, nil
}

// Valid reports whether dr is one of the six sweep levels.
func (dr DataRate) Valid() bool {
	return dr >= SF7 && dr <= SF12
}

// SpreadingFactor returns 7..12 for valid levels.
func (dr DataRate) SpreadingFactor() int {
	return int(dr) + 6
}

func (dr DataRate) String() string {
	if !dr.Valid() {
		return fmt.Sprintf("DataRate(%d)", uint8(dr))
	}
	return fmt.Sprintf("SF%d", dr.SpreadingFactor())
}
