package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/wesmsg"
)

var sys = meta.NewSystem("0000000000000001", "W001")

func TestEnrichHappyPath(t *testing.T) {
	appMeta := meta.Application{
		"job": "sage", "task": "testing", "host": "h", "plugin": "ns/p:1.2.3",
	}
	msg := wesmsg.Message{Name: "test", Value: 1234, Timestamp: 42, Meta: map[string]string{}}

	out, err := Enrich(msg, appMeta, sys, "upload")
	require.NoError(t, err)
	require.Equal(t, "test", out.Name)
	require.Equal(t, 1234, out.Value)
	require.Equal(t, map[string]string{
		"job": "sage", "task": "testing", "host": "h", "plugin": "ns/p:1.2.3",
		"node": "0000000000000001", "vsn": "W001",
	}, out.Meta)
}

func TestEnrichUploadRewrite(t *testing.T) {
	appMeta := meta.Application{
		"job": "sage", "task": "testing", "plugin": "localhost:5000/ns/p:1.2.3",
	}
	msg := wesmsg.Message{
		Name:      "upload",
		Value:     "ignored",
		Timestamp: 42,
		Meta:      map[string]string{"filename": "hello.txt", "user": "d"},
	}

	out, err := Enrich(msg, appMeta, sys, "upload")
	require.NoError(t, err)
	require.Equal(t, "upload", out.Name)
	require.Equal(t,
		"https://storage.sagecontinuum.org/api/v1/data/sage/sage-testing-1.2.3/0000000000000001/42-hello.txt",
		out.Value)
	require.Equal(t, "d", out.Meta["user"])
}

func TestPluginTagDerivation(t *testing.T) {
	tests := []struct {
		plugin  string
		wantTag string
		wantErr bool
	}{
		{plugin: "plugin-test", wantTag: "latest"},
		{plugin: "localhost:5000/ns/p", wantTag: "latest"},
		{plugin: "ns/p:1.2.3", wantTag: "1.2.3"},
		{plugin: "a:b:c", wantErr: true},
	}
	for _, tt := range tests {
		tag, err := pluginTag(tt.plugin)
		if tt.wantErr {
			require.Error(t, err, tt.plugin)
			continue
		}
		require.NoError(t, err, tt.plugin)
		require.Equal(t, tt.wantTag, tag, tt.plugin)
	}
}

func TestEnrichUploadMissingRequiredKey(t *testing.T) {
	appMeta := meta.Application{"job": "sage", "task": "testing", "plugin": "p:1.0.0"}
	msg := wesmsg.Message{Name: "upload", Timestamp: 1, Meta: map[string]string{}}

	_, err := Enrich(msg, appMeta, sys, "upload")
	require.Error(t, err)

	var invalidErr *InvalidUploadError
	require.ErrorAs(t, err, &invalidErr)
}

func TestEnrichNonUploadMessageUnaffected(t *testing.T) {
	msg := wesmsg.Message{Name: "env.temperature", Value: 23.1, Timestamp: 1, Meta: map[string]string{}}
	out, err := Enrich(msg, nil, sys, "upload")
	require.NoError(t, err)
	require.Equal(t, 23.1, out.Value)
}
