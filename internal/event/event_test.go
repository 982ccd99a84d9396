package event

import "testing"

func TestWithMetaCopies(t *testing.T) {
	base := New(TypeToolCall, "read_file").WithMeta("name", "read_file")
	derived := base.WithMeta("tool_call_id", "t1")

	if _, ok := base.Meta["tool_call_id"]; ok {
		t.Error("Expected WithMeta to leave the original event untouched")
	}
	if derived.MetaString("name") != "read_file" || derived.MetaString("tool_call_id") != "t1" {
		t.Errorf("Expected both keys on the derived event, got %+v", derived.Meta)
	}
}

func TestMetaStringTolerance(t *testing.T) {
	ev := New(TypeThinking, "x")
	if ev.MetaString("missing") != "" {
		t.Error("Expected an empty string for absent metadata")
	}
	ev = ev.WithMeta("count", 3)
	if ev.MetaString("count") != "" {
		t.Error("Expected an empty string for non-string metadata")
	}
}

func TestPersistable(t *testing.T) {
	for _, typ := range []Type{TypeUserMessage, TypeThinking, TypeToolCall, TypeToolResult, TypeAssistantMessage, TypeMissionStatus, TypeError} {
		if !typ.Persistable() {
			t.Errorf("Expected %s to be persistable", typ)
		}
	}
	if TypeStatus.Persistable() {
		t.Error("Expected status snapshots to be stream-only")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	encoded, err := EncodeMeta(map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("EncodeMeta failed: %v", err)
	}
	decoded, err := DecodeMeta(encoded)
	if err != nil {
		t.Fatalf("DecodeMeta failed: %v", err)
	}
	if decoded["key"] != "value" {
		t.Errorf("Expected the metadata back, got %+v", decoded)
	}

	if empty, err := EncodeMeta(nil); err != nil || empty != "" {
		t.Errorf("Expected nil metadata to encode empty, got %q (%v)", empty, err)
	}
	if m, err := DecodeMeta(""); err != nil || m != nil {
		t.Errorf("Expected empty metadata to decode nil, got %+v (%v)", m, err)
	}
}
