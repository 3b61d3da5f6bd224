// Package meta holds the two trusted metadata layers the handler merges into
// every outgoing message: per-application metadata bound by a MetadataSource,
// and process-wide system metadata set once at startup.
package meta

// Application is the set of fields a MetadataSource binds to a producer UID.
// At minimum it carries job, task, plugin, host and vsn when available; it is
// immutable once constructed.
type Application map[string]string

// System is the process-wide metadata injected into every outgoing message,
// set once at boot from CLI configuration.
type System map[string]string

// NewSystem builds the constant system metadata for this node.
func NewSystem(node, vsn string) System {
	return System{
		"node": node,
		"vsn":  vsn,
	}
}

// Merge layers msg.meta < appMeta < sysMeta, with later layers overwriting
// earlier ones, per the merge law: resultMeta[k] = sysMeta[k] if present,
// else appMeta[k] if present, else msg.meta[k].
func Merge(msgMeta map[string]string, appMeta Application, sysMeta System) map[string]string {
	out := make(map[string]string, len(msgMeta)+len(appMeta)+len(sysMeta))
	for k, v := range msgMeta {
		out[k] = v
	}
	for k, v := range appMeta {
		out[k] = v
	}
	for k, v := range sysMeta {
		out[k] = v
	}
	return out
}
