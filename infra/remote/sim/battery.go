package sim

import (
	"math"
	"time"
)

// battery models a traction battery with charge and discharge limits.
// Callers hold the API lock.
type battery struct {
	capacityKWh float64
	soc         float64 // [0,1]
	chargeKW    float64
	dischargeKW float64
}

// apply moves energy for dt. Positive power discharges, negative charges.
// It returns the power actually applied once limits and SoC bounds are
// enforced.
func (b *battery) apply(powerKW float64, dt time.Duration) float64 {
	hours := dt.Hours()
	if hours <= 0 || b.capacityKWh <= 0 || powerKW == 0 {
		return 0
	}
	var energy float64
	if powerKW > 0 {
		p := math.Min(powerKW, b.dischargeKW)
		energy = math.Min(p*hours, b.soc*b.capacityKWh)
		b.soc -= energy / b.capacityKWh
	} else {
		p := math.Min(-powerKW, b.chargeKW)
		energy = -math.Min(p*hours, (1-b.soc)*b.capacityKWh)
		b.soc -= energy / b.capacityKWh
	}
	b.soc = math.Max(0, math.Min(1, b.soc))
	return energy / hours
}

func (b *battery) percent() float64 { return b.soc * 100 }
