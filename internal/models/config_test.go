package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clinic.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadClinicConfig(t *testing.T) {
	path := writeConfig(t, `{
		"services": [
			{"key": "xray", "title": "Dental X-ray", "duration_minutes": 20}
		],
		"work_hours": {
			"monday": {"open": "10:00", "close": "14:00"}
		}
	}`)

	catalog, hours, err := LoadClinicConfig(path)
	if err != nil {
		t.Fatalf("LoadClinicConfig failed: %v", err)
	}
	if len(catalog) != 1 || catalog[0].Key != "xray" {
		t.Errorf("catalog = %+v", catalog)
	}
	if catalog.Duration("xray") != 20*time.Minute {
		t.Errorf("duration = %v", catalog.Duration("xray"))
	}
	if len(hours) != 1 {
		t.Fatalf("hours = %+v", hours)
	}
	if hours[time.Monday].Close != "14:00" {
		t.Errorf("monday = %+v", hours[time.Monday])
	}
}

func TestLoadClinicConfigDefaultsOmittedSections(t *testing.T) {
	path := writeConfig(t, `{"services": [{"key": "cleaning", "title": "Cleaning"}]}`)

	catalog, hours, err := LoadClinicConfig(path)
	if err != nil {
		t.Fatalf("LoadClinicConfig failed: %v", err)
	}
	if len(catalog) != 1 {
		t.Errorf("catalog = %+v", catalog)
	}
	if _, ok := hours[time.Saturday]; !ok {
		t.Error("expected default Saturday hours")
	}
}

func TestLoadClinicConfigRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown weekday": `{"work_hours": {"funday": {"open": "09:00", "close": "10:00"}}}`,
		"bad clock":       `{"work_hours": {"monday": {"open": "9am", "close": "10:00"}}}`,
		"missing title":   `{"services": [{"key": "xray"}]}`,
		"not json":        `{nope`,
	}
	for name, content := range cases {
		if _, _, err := LoadClinicConfig(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, _, err := LoadClinicConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file: expected error")
	}
}
