package seal_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/duty-time-tracker/internal/seal"
)

func TestXORMatchesBrowserEncoding(t *testing.T) {
	// "[" ^ "m" = "6", "]" ^ "i" = "4", btoa("64") = "NjQ="
	x := seal.NewXOR(seal.LegacyAnnouncementKey)
	got, err := x.Encode([]byte("[]"))
	require.NoError(t, err)
	assert.Equal(t, "NjQ=", got)

	back, err := x.Decode("NjQ=")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(back))
}

func TestCodecsRoundTrip(t *testing.T) {
	sealed, err := seal.NewSealed("deployment secret")
	require.NoError(t, err)

	codecs := map[string]seal.Codec{
		"plain":  seal.Plain{},
		"xor":    seal.NewXOR("k3y"),
		"sealed": sealed,
	}
	payload := []byte(`[{"title":"Réunion 🎖","content":"20h"}]`)
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			stored, err := c.Encode(payload)
			require.NoError(t, err)
			back, err := c.Decode(stored)
			require.NoError(t, err)

			var got []map[string]string
			require.NoError(t, json.Unmarshal(back, &got))
			assert.Equal(t, []map[string]string{{"title": "Réunion 🎖", "content": "20h"}}, got)
		})
	}
}

func TestXORReadsBrowserLatin1(t *testing.T) {
	key := seal.LegacyAnnouncementKey
	raw := []byte{'[', '"', 0xE9, '"', ']'}
	for i := range raw {
		raw[i] ^= key[i%len(key)]
	}
	back, err := seal.NewXOR(key).Decode(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, `["é"]`, string(back))
}

func TestCodecsReadPlaintext(t *testing.T) {
	sealed, err := seal.NewSealed("s")
	require.NoError(t, err)
	for _, c := range []seal.Codec{seal.NewXOR("k"), sealed} {
		back, err := c.Decode(`{"isActive":false,"startTime":null}`)
		require.NoError(t, err)
		assert.Equal(t, `{"isActive":false,"startTime":null}`, string(back))
	}
}

func TestSealedRejectsTamperingAndWrongSecret(t *testing.T) {
	a, err := seal.NewSealed("one")
	require.NoError(t, err)
	b, err := seal.NewSealed("two")
	require.NoError(t, err)

	stored, err := a.Encode([]byte(`[]`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "sealed:v1:"))

	_, err = b.Decode(stored)
	assert.ErrorIs(t, err, seal.ErrUndecodable)

	tampered := stored[:len(stored)-4] + "AAA="
	_, err = a.Decode(tampered)
	assert.ErrorIs(t, err, seal.ErrUndecodable)
}

func TestNew(t *testing.T) {
	c, err := seal.New("XOR", "", "")
	require.NoError(t, err)
	assert.IsType(t, seal.XOR{}, c)

	_, err = seal.New("sealed", "", "")
	assert.Error(t, err)

	_, err = seal.New("rot13", "", "")
	assert.Error(t, err)
}
