package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDoc = `
time_base:
  frame_duration_ms: 10
  superframe_per_frame: 1
  rcs2_burst_length_sym: 100
modcod_table:
  - id: 4
    modulation: QPSK
    coding_rate: "1/2"
    spectral_efficiency: 2.0
    required_es_n0_db: 1.0
  - id: 8
    modulation: 8PSK
    coding_rate: "3/4"
    spectral_efficiency: 3.0
    required_es_n0_db: 4.0
dama:
  dama_algorithm: Legacy
  fca_kbps: 0
  sync_period_sf: 10
  pep_allocation_delay_sf: 2
delay:
  delay_buffer: 1000
  delay_timer: 10
categories:
  - label: standard
    carriers:
      - id: 1
        fmt_ids: [4, 8]
        ratio: 1
        symbol_rate: 1000
        access_type: CCM
terminals:
  - tal_id: 5
    category: standard
    cra_kbps: 100
    max_rbdc_kbps: 500
    max_vbdc_kb: 2000
gw_fifos:
  - priority: 0
    name: nm
    capacity: 1000
    access_type: ACM
qos_classes:
  - qos: 0
    fifo: nm
simulation:
  mode: None
pep_listen_addr: "127.0.0.1:5000"
svno_listen_addr: "127.0.0.1:5001"
`

func TestDecodeValidDocument(t *testing.T) {
	root, err := Decode(strings.NewReader(validDoc))
	require.NoError(t, err)
	assert.Equal(t, int64(10), root.TimeBase.FrameDurationMs)
	require.Len(t, root.Categories, 1)
	assert.Equal(t, "standard", root.Categories[0].Label)
	assert.Equal(t, uint16(5), root.Terminals[0].TalID)
}

func TestDecodeRejectsUnknownKey(t *testing.T) {
	doc := validDoc + "\nbogus_key: true\n"
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRejectsZeroFrameDuration(t *testing.T) {
	doc := strings.Replace(validDoc, "frame_duration_ms: 10", "frame_duration_ms: 0", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRejectsUnsupportedAlgorithm(t *testing.T) {
	doc := strings.Replace(validDoc, "dama_algorithm: Legacy", "dama_algorithm: MPEG", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateTalID(t *testing.T) {
	doc := strings.Replace(validDoc, "terminals:\n  - tal_id: 5",
		"terminals:\n  - tal_id: 5\n    category: standard\n  - tal_id: 5", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownCategoryReference(t *testing.T) {
	doc := strings.Replace(validDoc, "category: standard", "category: missing", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownQosFifoReference(t *testing.T) {
	doc := strings.Replace(validDoc, "fifo: nm", "fifo: missing", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownSimulationMode(t *testing.T) {
	doc := strings.Replace(validDoc, "mode: None", "mode: Weird", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRequiresFilePathForFileSimulation(t *testing.T) {
	doc := strings.Replace(validDoc, "mode: None", "mode: File", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestValidateRejectsEmptyModcodTable(t *testing.T) {
	doc := strings.Replace(validDoc, `modcod_table:
  - id: 4
    modulation: QPSK
    coding_rate: "1/2"
    spectral_efficiency: 2.0
    required_es_n0_db: 1.0
  - id: 8
    modulation: 8PSK
    coding_rate: "3/4"
    spectral_efficiency: 3.0
    required_es_n0_db: 4.0
`, "modcod_table: []\n", 1)
	_, err := Decode(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestBuildModcodTableContainsConfiguredEntries(t *testing.T) {
	root, err := Decode(strings.NewReader(validDoc))
	require.NoError(t, err)

	table := root.BuildModcodTable()
	def, ok := table.Get(4)
	require.True(t, ok)
	assert.Equal(t, "QPSK", def.ModulationName)
	assert.Equal(t, 2.0, def.SpectralEfficiency)
}

func TestCategoryByLabel(t *testing.T) {
	root, err := Decode(strings.NewReader(validDoc))
	require.NoError(t, err)

	cat, ok := root.CategoryByLabel("standard")
	require.True(t, ok)
	assert.Len(t, cat.Carriers, 1)

	_, ok = root.CategoryByLabel("missing")
	assert.False(t, ok)
}
