package inverter

import (
	"fmt"
	"time"
)

// RegisterReader is the read surface needed to build Readings and probe
// capabilities. *modbus.Client satisfies it.
type RegisterReader interface {
	ReadUint16(address uint16) (uint16, error)
	ReadInt16(address uint16) (int16, error)
}

// Reading is one normalized telemetry snapshot. Immutable once built;
// consumers receive it read-only.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`

	// Production
	PVPower  float64 `json:"pv_power_w"`
	PV1Power float64 `json:"pv1_power_w"`
	PV2Power float64 `json:"pv2_power_w"`

	// Battery. Power is signed: positive while discharging, negative
	// while charging.
	BatterySOC   float64 `json:"battery_soc"`
	BatteryPower float64 `json:"battery_power_w"`

	// Grid. Power is signed: positive importing, negative exporting.
	GridPower   float64   `json:"grid_power_w"`
	GridVoltage []float64 `json:"grid_voltage_v"`

	// Load
	LoadPower  float64   `json:"load_power_w"`
	PhasePower []float64 `json:"phase_power_w"`

	GeneratorPower float64 `json:"generator_power_w"`
}

// MaxGridVoltage returns the highest per-phase grid voltage. A single
// energized phase means the grid is present.
func (r *Reading) MaxGridVoltage() float64 {
	var max float64
	for _, v := range r.GridVoltage {
		if v > max {
			max = v
		}
	}
	return max
}

type registerSet struct {
	pv1Power     uint16
	pv2Power     uint16
	batterySOC   uint16
	batteryPower uint16
	gridVolts    []uint16
	gridPower    uint16
	loadPower    uint16
	phasePowers  []uint16
	genPower     uint16
}

func registersFor(phases int) registerSet {
	if phases == 3 {
		return registerSet{
			pv1Power:     RegPV1Power3P,
			pv2Power:     RegPV2Power3P,
			batterySOC:   RegBatterySOC3P,
			batteryPower: RegBatteryPower3P,
			gridVolts:    []uint16{RegGridVoltL1, RegGridVoltL2, RegGridVoltL3},
			gridPower:    RegGridPower3P,
			loadPower:    RegLoadPower3P,
			phasePowers:  []uint16{RegLoadPowerL1, RegLoadPowerL2, RegLoadPowerL3},
			genPower:     RegGenPower3P,
		}
	}
	return registerSet{
		pv1Power:     RegPV1Power1P,
		pv2Power:     RegPV2Power1P,
		batterySOC:   RegBatterySOC1P,
		batteryPower: RegBatteryPower1P,
		gridVolts:    []uint16{RegGridVolt1P},
		gridPower:    RegGridPower1P,
		loadPower:    RegLoadPower1P,
		genPower:     RegGenPower1P,
	}
}

type Deye struct {
	reader RegisterReader
	caps   Capabilities
}

func NewDeye(reader RegisterReader, caps Capabilities) *Deye {
	return &Deye{reader: reader, caps: caps}
}

func (d *Deye) Capabilities() Capabilities {
	return d.caps
}

// ReadReading builds one Reading from the register map selected by the
// detected capabilities. All-or-nothing: any failed read fails the whole
// snapshot so consumers never see mixed-age fields.
func (d *Deye) ReadReading() (*Reading, error) {
	set := registersFor(d.caps.Phases)
	r := &Reading{Timestamp: time.Now()}

	pv1, err := d.reader.ReadUint16(set.pv1Power)
	if err != nil {
		return nil, fmt.Errorf("failed to read PV1 power: %w", err)
	}
	r.PV1Power = float64(pv1)

	if d.caps.PVStrings > 1 {
		pv2, err := d.reader.ReadUint16(set.pv2Power)
		if err != nil {
			return nil, fmt.Errorf("failed to read PV2 power: %w", err)
		}
		r.PV2Power = float64(pv2)
	}
	r.PVPower = r.PV1Power + r.PV2Power

	if d.caps.HasBattery {
		soc, err := d.reader.ReadUint16(set.batterySOC)
		if err != nil {
			return nil, fmt.Errorf("failed to read battery SOC: %w", err)
		}
		r.BatterySOC = float64(soc)

		bp, err := d.reader.ReadInt16(set.batteryPower)
		if err != nil {
			return nil, fmt.Errorf("failed to read battery power: %w", err)
		}
		r.BatteryPower = float64(bp)
	}

	r.GridVoltage = make([]float64, 0, len(set.gridVolts))
	for i, reg := range set.gridVolts {
		raw, err := d.reader.ReadUint16(reg)
		if err != nil {
			return nil, fmt.Errorf("failed to read grid voltage L%d: %w", i+1, err)
		}
		r.GridVoltage = append(r.GridVoltage, float64(raw)*0.1)
	}

	gp, err := d.reader.ReadInt16(set.gridPower)
	if err != nil {
		return nil, fmt.Errorf("failed to read grid power: %w", err)
	}
	r.GridPower = float64(gp)

	lp, err := d.reader.ReadInt16(set.loadPower)
	if err != nil {
		return nil, fmt.Errorf("failed to read load power: %w", err)
	}
	r.LoadPower = float64(lp)

	if len(set.phasePowers) > 0 {
		r.PhasePower = make([]float64, 0, len(set.phasePowers))
		for i, reg := range set.phasePowers {
			raw, err := d.reader.ReadInt16(reg)
			if err != nil {
				return nil, fmt.Errorf("failed to read load power L%d: %w", i+1, err)
			}
			r.PhasePower = append(r.PhasePower, float64(raw))
		}
	} else {
		// Single phase carries the whole load.
		r.PhasePower = []float64{r.LoadPower}
	}

	if d.caps.HasGenerator {
		gen, err := d.reader.ReadUint16(set.genPower)
		if err != nil {
			return nil, fmt.Errorf("failed to read generator power: %w", err)
		}
		r.GeneratorPower = float64(gen)
	}

	return r, nil
}

// TestConnection verifies the inverter answers a register read. Both
// register maps are tried so the check works before capabilities are
// known.
func TestConnection(reader RegisterReader) error {
	if _, err := reader.ReadUint16(RegGridVoltL1); err == nil {
		return nil
	}
	if _, err := reader.ReadUint16(RegGridVolt1P); err != nil {
		return fmt.Errorf("failed to read from inverter: %w", err)
	}
	return nil
}
