// Package enrich implements the pure enrichment step of the message
// handler: layering metadata and, for upload messages, rewriting the value
// into a canonical storage URL.
package enrich

import (
	"fmt"
	"strings"

	"github.com/waggle-sensor/wes-data-sharing-service/internal/meta"
	"github.com/waggle-sensor/wes-data-sharing-service/internal/wesmsg"
)

const namespace = "sage"

// requiredUploadKeys are the meta fields the upload URL template needs.
var requiredUploadKeys = []string{"job", "task", "node", "filename", "plugin"}

// InvalidUploadError reports why an upload message could not be rewritten.
type InvalidUploadError struct {
	Reason string
}

func (e *InvalidUploadError) Error() string {
	return fmt.Sprintf("invalid upload message: %s", e.Reason)
}

// Enrich merges msg's own meta with appMeta and sysMeta (system wins, then
// app, then the message's own meta) and, if msg.Name equals
// uploadPublishName, rewrites the message into its canonical upload-URL
// form. The returned Message is always a fresh copy; msg is left untouched.
func Enrich(msg wesmsg.Message, appMeta meta.Application, sysMeta meta.System, uploadPublishName string) (wesmsg.Message, error) {
	out := msg.Clone()
	out.Meta = meta.Merge(msg.Meta, appMeta, sysMeta)

	if msg.Name == uploadPublishName {
		return rewriteUpload(out, uploadPublishName)
	}
	return out, nil
}

// rewriteUpload replaces out.Value with the canonical storage URL built from
// out.Meta, per:
//
//	https://storage.sagecontinuum.org/api/v1/data/{job}/{namespace}-{task}-{tag}/{node}/{timestamp}-{filename}
func rewriteUpload(out wesmsg.Message, uploadPublishName string) (wesmsg.Message, error) {
	for _, key := range requiredUploadKeys {
		if out.Meta[key] == "" {
			return wesmsg.Message{}, &InvalidUploadError{Reason: fmt.Sprintf("missing required meta key %q", key)}
		}
	}

	tag, err := pluginTag(out.Meta["plugin"])
	if err != nil {
		return wesmsg.Message{}, err
	}

	url := fmt.Sprintf(
		"https://storage.sagecontinuum.org/api/v1/data/%s/%s-%s-%s/%s/%d-%s",
		out.Meta["job"],
		namespace,
		out.Meta["task"],
		tag,
		out.Meta["node"],
		out.Timestamp,
		out.Meta["filename"],
	)

	out.Value = url
	out.Name = uploadPublishName
	return out, nil
}

// pluginTag derives the version tag from a plugin reference: take the last
// '/'-separated segment, then split on ':' — one piece means "latest", two
// means the tag is the second piece, and more than two is invalid.
func pluginTag(plugin string) (string, error) {
	segments := strings.Split(plugin, "/")
	last := segments[len(segments)-1]

	pieces := strings.Split(last, ":")
	switch len(pieces) {
	case 1:
		return "latest", nil
	case 2:
		return pieces[1], nil
	default:
		return "", &InvalidUploadError{Reason: fmt.Sprintf("invalid plugin reference %q", plugin)}
	}
}
