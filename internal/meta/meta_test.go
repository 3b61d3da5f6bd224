package meta

import "testing"

func TestMergePrecedence(t *testing.T) {
	msgMeta := map[string]string{"vsn": "ALSO-WRONG", "user": "u"}
	appMeta := Application{"job": "j", "task": "t", "vsn": "WRONG"}
	sysMeta := NewSystem("0000000000000001", "W001")

	got := Merge(msgMeta, appMeta, sysMeta)

	want := map[string]string{
		"user": "u",
		"job":  "j",
		"task": "t",
		"vsn":  "W001",
		"node": "0000000000000001",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestMergeEmptyLayers(t *testing.T) {
	got := Merge(map[string]string{"a": "1"}, nil, nil)
	if got["a"] != "1" {
		t.Errorf("expected msg meta to survive with no overlays, got %v", got)
	}
}
