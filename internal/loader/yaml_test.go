package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tmaster/internal/domain"
)

func TestParseYAML(t *testing.T) {
	data := []byte(`
id: topo-1
name: word-count
initial_state: paused
components:
  - name: sentences
    kind: spout
    parallelism: 2
  - name: splitter
    kind: Bolt
  - name: counter
    kind: bolt
    parallelism: 4
`)

	topo, err := ParseYAML(data)
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}

	if topo.ID != "topo-1" || topo.Name != "word-count" {
		t.Errorf("identity = %s/%s", topo.ID, topo.Name)
	}
	if topo.State != domain.TopologyStatePaused {
		t.Errorf("State = %s, want PAUSED", topo.State)
	}
	if len(topo.Components) != 3 {
		t.Fatalf("got %d components, want 3", len(topo.Components))
	}
	if topo.Components[1].Kind != domain.ComponentKindBolt || topo.Components[1].Parallelism != 1 {
		t.Errorf("splitter = %+v, want bolt with default parallelism", topo.Components[1])
	}
	if topo.Instances() != 7 {
		t.Errorf("Instances() = %d, want 7", topo.Instances())
	}
}

func TestParseYAMLDefaults(t *testing.T) {
	topo, err := ParseYAML([]byte("id: solo\n"))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	if topo.Name != "solo" {
		t.Errorf("Name = %s, want id as fallback", topo.Name)
	}
	if topo.State != domain.TopologyStateRunning {
		t.Errorf("State = %s, want RUNNING", topo.State)
	}
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing id", "name: x\n", "id is required"},
		{"bad state", "id: t\ninitial_state: sleeping\n", "unknown topology state"},
		{"killed initial state", "id: t\ninitial_state: killed\n", "must be running or paused"},
		{"unnamed component", "id: t\ncomponents:\n  - kind: bolt\n", "name is required"},
		{"duplicate component", "id: t\ncomponents:\n  - {name: a, kind: bolt}\n  - {name: a, kind: bolt}\n", "more than once"},
		{"bad kind", "id: t\ncomponents:\n  - {name: a, kind: sink}\n", "spout or bolt"},
		{"negative parallelism", "id: t\ncomponents:\n  - {name: a, kind: bolt, parallelism: -2}\n", "positive"},
		{"not yaml", "id: [unterminated\n", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte("id: from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}

	topo, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML() error = %v", err)
	}
	if topo.ID != "from-file" {
		t.Errorf("ID = %s", topo.ID)
	}

	if _, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
