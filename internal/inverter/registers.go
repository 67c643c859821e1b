package inverter

// Deye/Sunsynk hybrid inverter Modbus register addresses (holding
// registers). Three-phase SG04LP3 models and single-phase SG0xLP1/Sunsynk
// models expose the same quantities at different addresses, so each map
// gets its own block.

// Three-phase (SUN-xK-SG04LP3) registers
const (
	RegPV1Power3P     = 514 // 514, U16, W
	RegPV2Power3P     = 515 // 515, U16, W
	RegBatteryVolt3P  = 587 // 587, U16, 0.01V
	RegBatterySOC3P   = 588 // 588, U16, %
	RegBatteryPower3P = 590 // 590, S16, W (+discharge/-charge)
	RegGridVoltL1     = 598 // 598, U16, 0.1V
	RegGridVoltL2     = 599 // 599, U16, 0.1V
	RegGridVoltL3     = 600 // 600, U16, 0.1V
	RegGridPower3P    = 625 // 625, S16, W (+import/-export)
	RegLoadVoltL2     = 645 // 645, U16, 0.1V (phase-count probe)
	RegLoadVoltL3     = 646 // 646, U16, 0.1V (phase-count probe)
	RegLoadPowerL1    = 650 // 650, S16, W
	RegLoadPowerL2    = 651 // 651, S16, W
	RegLoadPowerL3    = 652 // 652, S16, W
	RegLoadPower3P    = 653 // 653, S16, W
	RegGenPower3P     = 667 // 667, U16, W
)

// Single-phase (SUN-xK-SG0xLP1 / Sunsynk) registers
const (
	RegGridVolt1P     = 150 // 150, U16, 0.1V
	RegGenPower1P     = 166 // 166, U16, W
	RegGridPower1P    = 169 // 169, S16, W (+import/-export)
	RegLoadPower1P    = 178 // 178, S16, W
	RegBatteryVolt1P  = 183 // 183, U16, 0.01V
	RegBatterySOC1P   = 184 // 184, U16, %
	RegPV1Power1P     = 186 // 186, U16, W
	RegPV2Power1P     = 187 // 187, U16, W
	RegBatteryPower1P = 190 // 190, S16, W (+discharge/-charge)
)

// Plausibility bounds used by capability probes. A register counts as
// present only when its scaled value falls inside the physical range;
// sentinel values like 0xFFFF land outside and are rejected.
const (
	PhaseVoltageMin = 50.0    // V, an energized phase reads well above this
	VoltageMax      = 500.0   // V
	BatteryVoltMin  = 10.0    // V
	BatteryVoltMax  = 100.0   // V
	ProbePowerMax   = 20000.0 // W
)
