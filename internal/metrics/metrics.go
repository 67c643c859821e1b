package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors for the poller, outage detector and schedule refresher.
// Register attaches them to the default registry once at startup;
// unregistered use in tests is harmless.
var (
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deye_polls_total",
		Help: "Poll cycles by result (ok, error).",
	}, []string{"result"})

	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "deye_poll_duration_seconds",
		Help:    "Time to read one full telemetry snapshot.",
		Buckets: prometheus.DefBuckets,
	})

	ConnectionUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deye_connection_up",
		Help: "1 while the inverter transport is healthy.",
	})

	GridUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deye_grid_up",
		Help: "1 while the grid is up, 0 during an outage.",
	})

	OutagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deye_outages_total",
		Help: "Grid outage events recorded since start.",
	})

	PVPower = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deye_pv_power_watts",
		Help: "Current PV production.",
	})

	LoadPower = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deye_load_power_watts",
		Help: "Current load power.",
	})

	GridPower = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deye_grid_power_watts",
		Help: "Current grid power, positive importing.",
	})

	BatterySOC = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deye_battery_soc",
		Help: "Battery state of charge, percent.",
	})

	ScheduleStale = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deye_schedule_stale",
		Help: "1 while the outage schedule is served from a stale cache.",
	})
)

func Register() {
	prometheus.MustRegister(
		PollsTotal,
		PollDuration,
		ConnectionUp,
		GridUp,
		OutagesTotal,
		PVPower,
		LoadPower,
		GridPower,
		BatterySOC,
		ScheduleStale,
	)
}
