package stage

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	positionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hal",
		Subsystem: "stage",
		Name:      "position_um",
		Help:      "Last polled stage position in micrometers.",
	}, []string{"stage", "axis"})

	movingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hal",
		Subsystem: "stage",
		Name:      "moving",
		Help:      "1 while the stage reports motion in progress.",
	}, []string{"stage"})
)

// RegisterMetrics registers the stage gauges with reg
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{positionGauge, movingGauge} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func observe(name string, st Status) {
	for axis, v := range st.Position {
		positionGauge.WithLabelValues(name, axis).Set(v)
	}
	m := 0.
	if st.Moving {
		m = 1
	}
	movingGauge.WithLabelValues(name).Set(m)
}
