package persona

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVanityURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "https://trusted.example/bella-donna", want: "bella-donna"},
		{in: "https://trusted.example/Bella-Donna/chat?x=1", want: "bella-donna"},
		{in: "http://trusted.example//logic", want: "logic"},
		{in: "trusted.example/Geometry", want: "geometry"},
		{in: "  https://www.trusted.example/sub  ", want: "sub"},
		{in: "https://TRUSTED.example/upper", want: "upper"},
		{in: "not a url", wantErr: ErrInvalidReference},
		{in: "", wantErr: ErrInvalidReference},
		{in: "https://other-domain.com/x", wantErr: ErrUntrustedSource},
		{in: "https://trusted.example.evil.com/x", wantErr: ErrUntrustedSource},
		{in: "https://nottrusted.example/x", wantErr: ErrUntrustedSource},
		{in: "https://trusted.example", wantErr: ErrMissingIdentifier},
		{in: "https://trusted.example///", wantErr: ErrMissingIdentifier},
	}
	for _, tc := range cases {
		got, err := ParseVanityURL(tc.in, "trusted.example")
		if tc.wantErr != nil {
			require.ErrorIs(t, err, tc.wantErr, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestParseVanityURL_KindsAreDistinct(t *testing.T) {
	_, err := ParseVanityURL("https://other-domain.com/x", "trusted.example")
	require.False(t, errors.Is(err, ErrInvalidReference))
	require.False(t, errors.Is(err, ErrMissingIdentifier))
}

func TestDeriveName(t *testing.T) {
	require.Equal(t, "Bella Donna", DeriveName("bella-donna"))
	require.Equal(t, "Algebra", DeriveName("algebra"))
	require.Equal(t, "Élan Vital", DeriveName("élan-vital"))
	require.Equal(t, "", DeriveName(""))
}

func TestGlyph(t *testing.T) {
	require.Equal(t, "BD", Glyph("Bella Donna"))
	require.Equal(t, "AB", Glyph("Algebra Bot Prime"))
	require.Equal(t, "G", Glyph("general"))
	require.Equal(t, "", Glyph(""))
	require.Equal(t, "LB", Persona{DisplayName: "Logic Bot"}.Glyph())
}
