package cluster

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		job      string
		task     int
		expected Role
		wantErr  bool
	}{
		{"worker", 0, RoleChief, false},
		{"worker", 1, RoleWorker, false},
		{"worker", 7, RoleWorker, false},
		{"ps", 0, RoleParameterServer, false},
		{"evaluator", 0, 0, true},
		{"worker", -1, 0, true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.job, tt.task)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Expected error for %s/%d", tt.job, tt.task)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unexpected error for %s/%d: %v", tt.job, tt.task, err)
		}
		if got != tt.expected {
			t.Errorf("%s/%d: expected %s, got %s", tt.job, tt.task, tt.expected, got)
		}
	}

	if !RoleChief.IsChief() || RoleWorker.IsChief() {
		t.Error("Only the chief role should report IsChief")
	}
	if Role(42).String() != "unknown" {
		t.Errorf("Expected unknown, got %s", Role(42).String())
	}
	if ReplicaID(3) != "worker/3" {
		t.Errorf("Expected worker/3, got %s", ReplicaID(3))
	}
}

func TestLoadSpec(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "cluster.yaml")
		data := "ps:\n  - localhost:2222\nworker:\n  - localhost:2223\n  - localhost:2224\n"
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatalf("Failed to write cluster file: %v", err)
		}

		spec, err := LoadSpec(path)
		if err != nil {
			t.Fatalf("Failed to load cluster file: %v", err)
		}
		if spec.NumWorkers() != 2 {
			t.Errorf("Expected 2 workers, got %d", spec.NumWorkers())
		}

		addr, err := spec.Address(JobWorker, 1)
		if err != nil || addr != "localhost:2224" {
			t.Errorf("Expected localhost:2224, got %s (%v)", addr, err)
		}
		addr, err = spec.Address(JobParameterServer, 0)
		if err != nil || addr != "localhost:2222" {
			t.Errorf("Expected localhost:2222, got %s (%v)", addr, err)
		}
		if _, err := spec.Address(JobWorker, 2); err == nil {
			t.Error("Expected error for missing task")
		}
		if _, err := spec.Address("evaluator", 0); err == nil {
			t.Error("Expected error for unknown job")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name string
			data string
		}{
			{"no ps", "worker:\n  - localhost:2223\n"},
			{"two ps", "ps:\n  - a:1\n  - b:1\nworker:\n  - c:1\n"},
			{"no workers", "ps:\n  - a:1\n"},
			{"empty address", "ps:\n  - \"\"\nworker:\n  - c:1\n"},
			{"malformed", "ps: [a:1\n"},
		}

		for _, tt := range tests {
			path := filepath.Join(dir, tt.name+".yaml")
			os.WriteFile(path, []byte(tt.data), 0644)
			if _, err := LoadSpec(path); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := LoadSpec(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}
