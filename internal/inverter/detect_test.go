package inverter

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	seq  map[uint16][]uint16
	vals map[uint16]uint16
	errs map[uint16]error
}

func (s *stubReader) ReadUint16(addr uint16) (uint16, error) {
	if q, ok := s.seq[addr]; ok && len(q) > 0 {
		v := q[0]
		s.seq[addr] = q[1:]
		return v, nil
	}
	if err, ok := s.errs[addr]; ok {
		return 0, err
	}
	return s.vals[addr], nil
}

func (s *stubReader) ReadInt16(addr uint16) (int16, error) {
	v, err := s.ReadUint16(addr)
	return int16(v), err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDetector(r RegisterReader) *Detector {
	d := NewDetector(r, testLogger())
	d.delay = 0
	return d
}

func boolPtr(b bool) *bool { return &b }

func TestDetectThreePhaseWithBatteryAndTwoStrings(t *testing.T) {
	reader := &stubReader{vals: map[uint16]uint16{
		RegLoadVoltL2:    2300, // 230.0V
		RegLoadVoltL3:    2298,
		RegBatteryVolt3P: 5250, // 52.50V
		RegPV2Power3P:    1200,
		RegGenPower3P:    0,
	}}

	caps := newTestDetector(reader).Detect(Overrides{})

	assert.Equal(t, 3, caps.Phases)
	assert.True(t, caps.HasBattery)
	assert.Equal(t, 2, caps.PVStrings)
	assert.False(t, caps.HasGenerator)
}

func TestDetectSinglePhaseUsesSinglePhaseRegisters(t *testing.T) {
	errAddr := errors.New("illegal data address")
	reader := &stubReader{
		errs: map[uint16]error{
			RegLoadVoltL2: errAddr,
			RegLoadVoltL3: errAddr,
		},
		vals: map[uint16]uint16{
			RegBatteryVolt1P: 5180, // 51.80V
			RegPV2Power1P:    0,
			RegGenPower1P:    0,
		},
	}

	caps := newTestDetector(reader).Detect(Overrides{})

	assert.Equal(t, 1, caps.Phases)
	assert.True(t, caps.HasBattery)
	assert.Equal(t, 1, caps.PVStrings)
	assert.False(t, caps.HasGenerator)
}

func TestDetectPhaseProbeTransportErrorResolvesToSinglePhase(t *testing.T) {
	errConn := errors.New("connection reset")
	reader := &stubReader{errs: map[uint16]error{
		RegLoadVoltL2: errConn,
		RegLoadVoltL3: errConn,
	}}

	caps := newTestDetector(reader).Detect(Overrides{})

	assert.Equal(t, 1, caps.Phases)
}

func TestDetectUnreachableTransportFallsBackToMinimum(t *testing.T) {
	errConn := errors.New("connection refused")
	reader := &stubReader{errs: map[uint16]error{
		RegLoadVoltL2:    errConn,
		RegLoadVoltL3:    errConn,
		RegBatteryVolt1P: errConn,
		RegPV2Power1P:    errConn,
		RegGenPower1P:    errConn,
	}}

	caps := newTestDetector(reader).Detect(Overrides{})

	assert.Equal(t, Capabilities{Phases: 1, HasBattery: false, PVStrings: 1, HasGenerator: false}, caps)
}

func TestDetectIntermittentSampleStillCounts(t *testing.T) {
	reader := &stubReader{
		seq:  map[uint16][]uint16{RegLoadVoltL2: {0, 0, 2295}},
		vals: map[uint16]uint16{RegLoadVoltL3: 0},
	}

	caps := newTestDetector(reader).Detect(Overrides{})

	assert.Equal(t, 3, caps.Phases)
}

func TestDetectImplausibleValuesRejected(t *testing.T) {
	tests := []struct {
		name string
		vals map[uint16]uint16
		want Capabilities
	}{
		{
			name: "battery voltage below plausible range",
			vals: map[uint16]uint16{RegLoadVoltL2: 2300, RegBatteryVolt3P: 2},
			want: Capabilities{Phases: 3, PVStrings: 1},
		},
		{
			name: "sentinel battery voltage",
			vals: map[uint16]uint16{RegLoadVoltL2: 2300, RegBatteryVolt3P: 0xFFFF},
			want: Capabilities{Phases: 3, PVStrings: 1},
		},
		{
			name: "sentinel pv2 power",
			vals: map[uint16]uint16{RegPV2Power1P: 0xFFFF},
			want: Capabilities{Phases: 1, PVStrings: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := newTestDetector(&stubReader{vals: tt.vals}).Detect(Overrides{})
			assert.Equal(t, tt.want, caps)
		})
	}
}

func TestDetectOverridesBypassProbing(t *testing.T) {
	errConn := errors.New("connection refused")
	reader := &stubReader{errs: map[uint16]error{
		RegLoadVoltL2:    errConn,
		RegLoadVoltL3:    errConn,
		RegBatteryVolt3P: errConn,
		RegPV2Power3P:    errConn,
		RegGenPower3P:    errConn,
	}}

	caps := newTestDetector(reader).Detect(Overrides{
		Phases:    3,
		PVStrings: 2,
		Battery:   boolPtr(true),
		Generator: boolPtr(true),
	})

	require.Equal(t, Capabilities{Phases: 3, HasBattery: true, PVStrings: 2, HasGenerator: true}, caps)
}
