package heartbeat

import (
	"errors"
	"testing"
	"time"
)

func TestSnapshotMarksStaleComponent(t *testing.T) {
	registry := NewRegistry()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	registry.now = func() time.Time { return start }
	registry.Beat("pipeline", "batch ok")
	registry.Listening(SessionComponent("ses_1"), "listening")

	registry.now = func() time.Time { return start.Add(3 * time.Minute) }
	snapshot := registry.Snapshot(time.Minute)
	if snapshot.Overall != StateDegraded {
		t.Fatalf("expected degraded overall state, got %s", snapshot.Overall)
	}
	pipeline, ok := snapshot.Component("pipeline")
	if !ok || pipeline.State != StateStale || !pipeline.Stale || pipeline.BaseState != StateHealthy {
		t.Fatalf("expected stale pipeline, got %+v", pipeline)
	}
	session, ok := snapshot.Component("session:ses_1")
	if !ok || session.State != StateListening {
		t.Fatalf("listening session must not go stale, got %+v", session)
	}
}

func TestSnapshotOverall(t *testing.T) {
	registry := NewRegistry()
	if registry.Snapshot(0).Overall != "unknown" {
		t.Fatal("expected unknown for an empty registry")
	}

	registry.Disabled("pipeline", "no schedule")
	registry.Stopped(SessionComponent("ses_1"), "stopped")
	if overall := registry.Snapshot(time.Minute).Overall; overall != "idle" {
		t.Fatalf("expected idle, got %s", overall)
	}

	registry.Listening(SessionComponent("ses_2"), "listening")
	if overall := registry.Snapshot(time.Minute).Overall; overall != StateHealthy {
		t.Fatalf("expected healthy, got %s", overall)
	}

	registry.Degrade(SessionComponent("ses_3"), "connect failed", errors.New("bad token"))
	snapshot := registry.Snapshot(time.Minute)
	if snapshot.Overall != StateDegraded {
		t.Fatalf("expected degraded, got %s", snapshot.Overall)
	}
	failed, _ := snapshot.Component("session:ses_3")
	if failed.Error != "bad token" {
		t.Fatalf("expected error text, got %+v", failed)
	}
}

func TestForgetRemovesComponent(t *testing.T) {
	registry := NewRegistry()
	registry.Listening("Session:SES_1", "listening")
	if _, ok := registry.Snapshot(0).Component("session:ses_1"); !ok {
		t.Fatal("expected normalized component name")
	}
	registry.Forget("session:ses_1")
	if len(registry.Snapshot(0).Components) != 0 {
		t.Fatal("expected component to be forgotten")
	}
}

func TestNilRegistryIgnoresReports(t *testing.T) {
	var registry *Registry
	var reporter Reporter = registry
	reporter.Starting("runtime", "booting")
	reporter.Degrade("pipeline", "failed", errors.New("boom"))
	reporter.Forget("pipeline")
}

func TestStoppingComponentNeverGoesStale(t *testing.T) {
	registry := NewRegistry()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	registry.now = func() time.Time { return start }
	registry.Stopping(SessionComponent("ses_1"), "stopping")

	registry.now = func() time.Time { return start.Add(time.Hour) }
	snapshot := registry.Snapshot(time.Minute)
	component, ok := snapshot.Component(SessionComponent("ses_1"))
	if !ok || component.State != StateStopping || component.Stale {
		t.Fatalf("expected stopping component, got %+v", component)
	}
	if snapshot.Overall != StateHealthy {
		t.Fatalf("expected healthy overall state, got %s", snapshot.Overall)
	}
}
