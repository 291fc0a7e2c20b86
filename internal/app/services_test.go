package app

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/wledsync/internal/config"
)

func testConfig(t *testing.T, dbPath string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
controllers:
  - id: desk
    address: 127.0.0.1:1
database:
  path: %s
api:
  enabled: false
`, dbPath)))
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	return cfg
}

func TestNewServices_NoControllers(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "test.sqlite"))
	cfg.Controllers = nil

	if _, err := NewServices(cfg); err == nil {
		t.Error("NewServices() error = nil, want error without controllers")
	}
}

func TestResetZonesClearsStoredControllers(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.sqlite")

	// A previous run stored zones for desk and for a controller that is no
	// longer configured
	s, err := NewServices(testConfig(t, dbPath))
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	for _, id := range []string{"desk", "porch"} {
		if _, err := s.Zones.Initialize(id, "All", 60); err != nil {
			t.Fatalf("Initialize(%s) error = %v", id, err)
		}
	}
	s.Close()

	a, err := New(testConfig(t, dbPath), Options{ResetZones: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.services.Close()

	if !a.services.skipPull {
		t.Error("skipPull = false, want true after reset")
	}
	for _, id := range []string{"desk", "porch"} {
		if defs := a.services.Zones.Snapshot(id); !defs.IsEmpty() {
			t.Errorf("zones of %s = %+v, want empty", id, defs.Segments)
		}
	}
}
