package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	h := Hardened
	tests := []struct {
		input  string
		output DerivationPath
		err    bool
	}{
		{"m/84'/1'/0'/0", DerivationPath{h(84), h(1), h(0), 0}, false},
		{"m/84h/1h/0h/1", DerivationPath{h(84), h(1), h(0), 1}, false},
		{"m/84H/0H/0H/0", DerivationPath{h(84), h(0), h(0), 0}, false},
		{"84'/1'/0'/0", DerivationPath{h(84), h(1), h(0), 0}, false},
		{"0/0", DerivationPath{0, 0}, false},
		{"m", DerivationPath{}, false},
		{"m/2147483647'", DerivationPath{h(2147483647)}, false},

		{"", nil, true},
		{"m/", nil, true},
		{"/84'/0'", nil, true},
		{"m/84''", nil, true},
		{"m/2147483648", nil, true},
		{"m/-1", nil, true},
		{"m/x", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			path, err := ParsePath(tt.input)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.output, path)
		})
	}
}

func TestDerivationPath_String(t *testing.T) {
	p := DerivationPath{Hardened(84), Hardened(1), Hardened(0), 1}
	require.Equal(t, "m/84'/1'/0'/1", p.String())
	require.Equal(t, "84'/1'/0'/1", p.relative())
	require.Equal(t, "m", DerivationPath{}.String())

	back, err := ParsePath(p.String())
	require.NoError(t, err)
	require.True(t, back.Equal(p))
}

func TestDerivationPath_ChildDoesNotAlias(t *testing.T) {
	base := make(DerivationPath, 2, 8)
	base[0], base[1] = Hardened(84), Hardened(1)

	a := base.Child(0)
	b := base.Child(1)
	require.Equal(t, uint32(0), a[2])
	require.Equal(t, uint32(1), b[2])
	require.Len(t, base, 2)
	require.True(t, a.HasPrefix(base))
	require.False(t, base.HasPrefix(a))
}
