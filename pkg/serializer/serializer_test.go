package serializer

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type testHost struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
}

func TestWriter_SerializeJSON(t *testing.T) {
	var buf bytes.Buffer
	writer := NewWriter(FormatJSON, &buf)

	data := []testHost{
		{Name: "worker-1", Address: "203.0.113.10"},
		{Name: "worker-2", Address: "203.0.113.11"},
	}
	if err := writer.Serialize(context.Background(), data); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var result []testHost
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
	if len(result) != 2 || result[0].Name != "worker-1" {
		t.Errorf("unexpected data: %+v", result)
	}
}

func TestWriter_SerializeYAML(t *testing.T) {
	var buf bytes.Buffer
	writer := NewWriter(FormatYAML, &buf)

	data := []testHost{{Name: "worker-1", Address: "203.0.113.10"}}
	if err := writer.Serialize(context.Background(), data); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var result []testHost
	if err := yaml.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal YAML: %v", err)
	}
	if len(result) != 1 || result[0].Address != "203.0.113.10" {
		t.Errorf("unexpected data: %+v", result)
	}
}

func TestWriter_SerializeTable(t *testing.T) {
	var buf bytes.Buffer
	writer := NewWriter(FormatTable, &buf)

	data := []testHost{
		{Name: "worker-1", Address: "203.0.113.10"},
		{Name: "worker-2", Address: "203.0.113.11"},
	}
	if err := writer.Serialize(context.Background(), data); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "FIELD") || !strings.Contains(output, "VALUE") {
		t.Error("expected table header not found")
	}
	if !strings.Contains(output, "[0].Name") || !strings.Contains(output, "[1].Address") {
		t.Errorf("expected flattened keys not found in %q", output)
	}
	if !strings.Contains(output, "203.0.113.11") {
		t.Error("expected values in table output")
	}
}

func TestFormat_IsUnknown(t *testing.T) {
	for _, f := range []Format{FormatYAML, FormatJSON, FormatTable} {
		if f.IsUnknown() {
			t.Errorf("%s reported unknown", f)
		}
	}
	if !Format("xml").IsUnknown() {
		t.Error("xml should be unknown")
	}
}
