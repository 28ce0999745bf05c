package focuslock

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offsetGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hal",
		Subsystem: "focuslock",
		Name:      "offset_px",
		Help:      "Offset of the last good reading.",
	})

	sumGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hal",
		Subsystem: "focuslock",
		Name:      "sum",
		Help:      "Sum signal of the last reading.",
	})

	readingsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hal",
		Subsystem: "focuslock",
		Name:      "readings_total",
		Help:      "Readings produced by the lock camera, by quality.",
	}, []string{"good"})

	lockedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hal",
		Subsystem: "focuslock",
		Name:      "locked",
		Help:      "1 while the lock is correcting z.",
	})

	targetGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hal",
		Subsystem: "focuslock",
		Name:      "target_px",
		Help:      "Offset the lock holds.",
	})
)

// RegisterMetrics registers the focus lock metrics with reg
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{offsetGauge, sumGauge, readingsCounter, lockedGauge, targetGauge} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func observe(r Reading) {
	sumGauge.Set(r.Sum)
	if r.IsGood {
		offsetGauge.Set(r.Offset)
		readingsCounter.WithLabelValues("true").Inc()
		return
	}
	readingsCounter.WithLabelValues("false").Inc()
}

func observeLock(locked bool, target float64) {
	l := 0.
	if locked {
		l = 1
	}
	lockedGauge.Set(l)
	targetGauge.Set(target)
}
