package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksum_Vector(t *testing.T) {
	sum, err := Checksum("raw(deadbeef)")
	require.NoError(t, err)
	require.Equal(t, "89f8spxm", sum)
}

func TestSplitChecksum(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   bool
	}{
		{"valid", "raw(deadbeef)#89f8spxm", false},
		{"absent", "raw(deadbeef)", false},
		{"empty", "raw(deadbeef)#", true},
		{"too long", "raw(deadbeef)#89f8spxmx", true},
		{"too short", "raw(deadbeef)#89f8spx", true},
		{"wrong char", "raw(deadbeef)#89f8spxn", true},
		{"body changed", "raw(deedbeef)#89f8spxm", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := splitChecksum(tt.input)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "raw(deadbeef)", body)
		})
	}
}

func TestChecksum_InvalidCharacter(t *testing.T) {
	_, err := Checksum("raw(Ü)")
	require.Error(t, err)
}
