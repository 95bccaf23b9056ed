package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTechnology(t *testing.T) {
	tests := []struct {
		in      string
		want    Technology
		wantErr bool
	}{
		{"BLE", BLE, false},
		{"ble", BLE, false},
		{"BT", BLE, false},
		{" bluetooth ", BLE, false},
		{"UWB", UWB, false},
		{"nfc", NFC, false},
		{"WIFI", WiFi, false},
		{"Wi-Fi", WiFi, false},
		{"ZIGBEE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTechnology(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewScopeOrdersAndDedupes(t *testing.T) {
	scope, err := NewScope(WiFi, BLE, WiFi, NFC)
	require.NoError(t, err)

	assert.Equal(t, []Technology{BLE, NFC, WiFi}, scope.Technologies())
	assert.Equal(t, 3, scope.Len())
	assert.True(t, scope.Contains(NFC))
	assert.False(t, scope.Contains(UWB))
	assert.Equal(t, "BLE,NFC,WIFI", scope.String())
}

func TestNewScopeRejectsEmptyAndUnknown(t *testing.T) {
	_, err := NewScope()
	assert.Error(t, err)

	_, err = NewScope(BLE, Technology("LORA"))
	assert.Error(t, err)
}

func TestParseScope(t *testing.T) {
	all, err := ParseScope("all")
	require.NoError(t, err)
	assert.Equal(t, AllTechnologies(), all.Technologies())
	assert.Equal(t, ScopeAll, all.String())

	single, err := ParseScope("BT")
	require.NoError(t, err)
	assert.Equal(t, []Technology{BLE}, single.Technologies())

	list, err := ParseScope("uwb, ble,")
	require.NoError(t, err)
	assert.Equal(t, []Technology{BLE, UWB}, list.Technologies())

	_, err = ParseScope(" , ")
	assert.Error(t, err)

	_, err = ParseScope("BLE,SONAR")
	assert.Error(t, err)
}

func TestScopeTechnologiesIsACopy(t *testing.T) {
	scope := FullScope()
	techs := scope.Technologies()
	techs[0] = NFC

	assert.Equal(t, BLE, scope.Technologies()[0])
	assert.False(t, scope.IsZero())
	assert.True(t, Scope{}.IsZero())
}

func TestCanonicalIdentity(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", CanonicalIdentity(BLE, " aa:bb:cc:dd:ee:ff "))
	assert.Equal(t, "04A2B3C4", CanonicalIdentity(NFC, "04a2b3c4"))
	assert.Equal(t, "Printer._ipp._tcp", CanonicalIdentity(WiFi, "Printer._ipp._tcp "))
}

func TestHexID(t *testing.T) {
	assert.Equal(t, "04A2FF0B", HexID([]byte{0x04, 0xa2, 0xff, 0x0b}))
	assert.Equal(t, "", HexID(nil))
}

func TestScopeTextRoundTrip(t *testing.T) {
	var scope Scope
	require.NoError(t, scope.UnmarshalText([]byte("bt,nfc")))
	assert.Equal(t, []Technology{BLE, NFC}, scope.Technologies())

	text, err := scope.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "BLE,NFC", string(text))

	assert.Error(t, scope.UnmarshalText([]byte("")))
}
