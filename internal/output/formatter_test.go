package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

type inner struct {
	Failures uint32 `json:"failures" yaml:"failures"`
	Active   bool   `json:"active" yaml:"active"`
}

type record struct {
	Name     string        `json:"name" yaml:"name"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	At       time.Time     `json:"at" yaml:"at"`
	Rate     float64       `json:"rate" yaml:"rate"`
	Recovery inner         `json:"recovery" yaml:"recovery"`
	hidden   int
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", "*output.JSONFormatter"},
		{"JSON", "*output.JSONFormatter"},
		{"yaml", "*output.YAMLFormatter"},
		{"table", "*output.TableFormatter"},
		{"", "*output.TableFormatter"},
		{"xml", "*output.TableFormatter"},
	}
	for _, tt := range tests {
		got := strings.TrimSpace(typeName(NewFormatter(tt.format)))
		if got != tt.want {
			t.Errorf("NewFormatter(%q) = %s, want %s", tt.format, got, tt.want)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *JSONFormatter:
		return "*output.JSONFormatter"
	case *YAMLFormatter:
		return "*output.YAMLFormatter"
	case *TableFormatter:
		return "*output.TableFormatter"
	}
	return "unknown"
}

func TestTableFormatter_Struct(t *testing.T) {
	r := record{
		Name:     "node",
		Duration: 1500 * time.Millisecond,
		At:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Rate:     0.25,
		Recovery: inner{Failures: 3, Active: true},
		hidden:   7,
	}

	out := (&TableFormatter{}).Format(&r)
	for _, want := range []string{"name:", "node", "1.5s", "2024-01-02 03:04:05", "0.25", "recovery.failures:", "recovery.active:", "true"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("unexported field rendered:\n%s", out)
	}
}

func TestTableFormatter_Slice(t *testing.T) {
	rows := []record{{Name: "a"}, {Name: "b", Duration: time.Second}}
	out := (&TableFormatter{}).Format(rows)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[0], "RECOVERY.FAILURES") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "-") {
		t.Errorf("zero time not rendered as '-': %q", lines[1])
	}
	if !strings.Contains(lines[2], "1s") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestTableFormatter_Empty(t *testing.T) {
	if out := (&TableFormatter{}).Format([]record{}); out != "No records found.\n" {
		t.Errorf("empty slice output = %q", out)
	}
	var nilRecord *record
	if out := (&TableFormatter{}).Format(nilRecord); out != "No data.\n" {
		t.Errorf("nil pointer output = %q", out)
	}
}

func TestJSONAndYAMLFormatter(t *testing.T) {
	r := record{Name: "node", Recovery: inner{Failures: 2}}

	var decoded map[string]any
	if err := json.Unmarshal([]byte((&JSONFormatter{}).Format(r)), &decoded); err != nil {
		t.Fatalf("JSON output does not parse: %v", err)
	}
	if decoded["name"] != "node" {
		t.Errorf("json name = %v", decoded["name"])
	}

	var y map[string]any
	if err := yaml.Unmarshal([]byte((&YAMLFormatter{}).Format(r)), &y); err != nil {
		t.Fatalf("YAML output does not parse: %v", err)
	}
	rec, ok := y["recovery"].(map[string]any)
	if !ok || rec["failures"] != 2 {
		t.Errorf("yaml recovery = %v", y["recovery"])
	}
}
