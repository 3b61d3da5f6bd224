package wesmsg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Message{
		Timestamp: 1360287003083988472,
		Name:      "test",
		Value:     23.1,
		Meta: map[string]string{
			"sensor": "bme280",
		},
	}

	body, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMissingName(t *testing.T) {
	body, err := Encode(Message{Timestamp: 1, Value: 1})
	require.NoError(t, err)

	_, err = Decode(body)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode([]byte("not msgpack"))
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeNilMetaBecomesEmptyMap(t *testing.T) {
	body, err := Encode(Message{Name: "test", Timestamp: 1})
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.NotNil(t, got.Meta)
	require.Empty(t, got.Meta)
}
