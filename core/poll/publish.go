package poll

import (
	"github.com/kilianp07/fleetbridge/core/bus"
	"github.com/kilianp07/fleetbridge/core/logger"
)

type reading struct {
	topic string
	value any
}

func readings(f fetched) []reading {
	st := f.status
	rs := []reading{
		{bus.TopicRunning, st.EngineRunning},
		{bus.TopicSoC, st.SoC},
		{bus.TopicRange, st.RangeKM},
		{bus.TopicMileage, st.MileageKM},
		{bus.TopicCharging, st.Charging},
		{bus.TopicDoorsLocked, st.Locked},
		{bus.TopicDoorsBoot, st.BootOpen},
		{bus.TopicLatitude, st.Latitude},
		{bus.TopicLongitude, st.Longitude},
		{bus.TopicSpeed, st.SpeedKMH},
		{bus.TopicInteriorTemp, st.InteriorTempC},
		{bus.TopicExteriorTemp, st.ExteriorTempC},
	}
	if cs := f.charge; cs != nil {
		rs = append(rs,
			reading{bus.TopicPluggedIn, cs.PluggedIn},
			reading{bus.TopicChargingPower, cs.PowerKW},
			reading{bus.TopicChargingRemaining, cs.Remaining},
			reading{bus.TopicSoCTarget, cs.TargetSoC},
		)
	}
	if hs := f.heating; hs != nil {
		rs = append(rs, reading{bus.TopicHeatingSchedule, *hs})
	}
	return rs
}

func publishTelemetry(pub bus.Publisher, log logger.Logger, f fetched) {
	for _, r := range readings(f) {
		if err := pub.Publish(r.topic, r.value); err != nil {
			log.Warnf("publish %s: %v", r.topic, err)
		}
	}
}
