package inverter

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Capabilities describes what the connected inverter model exposes.
// Immutable after detection; shared read-only for the process lifetime.
type Capabilities struct {
	Phases       int  `json:"phases"`
	HasBattery   bool `json:"has_battery"`
	PVStrings    int  `json:"pv_strings"`
	HasGenerator bool `json:"has_generator"`
}

// Overrides carries explicitly configured capabilities. Zero or nil
// fields mean "probe the hardware".
type Overrides struct {
	Phases    int
	PVStrings int
	Battery   *bool
	Generator *bool
}

const (
	detectSamples     = 3
	detectSampleDelay = 150 * time.Millisecond
)

type Detector struct {
	reader  RegisterReader
	logger  *logrus.Logger
	samples int
	delay   time.Duration
}

func NewDetector(reader RegisterReader, logger *logrus.Logger) *Detector {
	return &Detector{
		reader:  reader,
		logger:  logger,
		samples: detectSamples,
		delay:   detectSampleDelay,
	}
}

// Detect probes the register map once at startup and resolves every
// capability not pinned by an override. Probe failures never abort
// startup: an unreachable or ambiguous register resolves to the
// conservative minimum (single phase, no battery, one PV string, no
// generator).
func (d *Detector) Detect(ov Overrides) Capabilities {
	caps := Capabilities{Phases: 1, PVStrings: 1}

	if ov.Phases != 0 {
		caps.Phases = ov.Phases
	} else if d.probe("phases", []uint16{RegLoadVoltL2, RegLoadVoltL3}, 0.1, PhaseVoltageMin, VoltageMax) {
		caps.Phases = 3
	}

	// Remaining probes read from the register map the phase probe
	// selected.
	batteryVolt := uint16(RegBatteryVolt1P)
	pv2Power := uint16(RegPV2Power1P)
	genPower := uint16(RegGenPower1P)
	if caps.Phases == 3 {
		batteryVolt = RegBatteryVolt3P
		pv2Power = RegPV2Power3P
		genPower = RegGenPower3P
	}

	if ov.Battery != nil {
		caps.HasBattery = *ov.Battery
	} else {
		caps.HasBattery = d.probe("battery", []uint16{batteryVolt}, 0.01, BatteryVoltMin, BatteryVoltMax)
	}

	if ov.PVStrings != 0 {
		caps.PVStrings = ov.PVStrings
	} else if d.probe("pv2", []uint16{pv2Power}, 1, 0, ProbePowerMax) {
		caps.PVStrings = 2
	}

	if ov.Generator != nil {
		caps.HasGenerator = *ov.Generator
	} else {
		caps.HasGenerator = d.probe("generator", []uint16{genPower}, 1, 0, ProbePowerMax)
	}

	d.logger.WithFields(logrus.Fields{
		"phases":     caps.Phases,
		"battery":    caps.HasBattery,
		"pv_strings": caps.PVStrings,
		"generator":  caps.HasGenerator,
	}).Info("Inverter capabilities resolved")

	return caps
}

// probe samples the given registers and reports presence: any sample
// whose scaled value lands strictly inside (min, max) counts, which
// tolerates intermittent reads. When every read fails the probe is
// inconclusive and resolves to absent.
func (d *Detector) probe(name string, regs []uint16, scale, min, max float64) bool {
	reachable := false
	for i := 0; i < d.samples; i++ {
		if i > 0 && d.delay > 0 {
			time.Sleep(d.delay)
		}
		for _, reg := range regs {
			raw, err := d.reader.ReadUint16(reg)
			if err != nil {
				continue
			}
			reachable = true
			if v := float64(raw) * scale; v > min && v < max {
				return true
			}
		}
	}
	if !reachable {
		d.logger.WithField("probe", name).Warn("Capability probe unreachable, assuming absent")
	}
	return false
}
