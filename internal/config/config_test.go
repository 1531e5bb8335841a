package config

import (
	"path/filepath"
	"testing"

	"github.com/mstroecker/airpodsd/internal/model"
)

func TestOpenCreatesDirAndDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "airpodsd")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if got := s.GlobalConfig().EarPauseMode; got != model.EarPauseDisabled {
		t.Errorf("default EarPauseMode = %v, want Disabled", got)
	}
	if profile := s.PeerProfile("AA:BB:CC:DD:EE:FF"); profile != (PeerProfile{}) {
		t.Errorf("expected zero-value profile for unknown peer, got %+v", profile)
	}
}

func TestSetEarPauseModePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.SetEarPauseMode(model.EarPauseBothOut); err != nil {
		t.Fatalf("SetEarPauseMode: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if got := s2.GlobalConfig().EarPauseMode; got != model.EarPauseBothOut {
		t.Errorf("reloaded EarPauseMode = %v, want BothOut", got)
	}
}

func TestSetPeerProfileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	addr := "aa:bb:cc:dd:ee:ff"
	profile := PeerProfile{DisplayName: "Office Pods", PreferredNoiseMode: "anc", ListenANC: true, ListenAdaptive: true}
	if err := s.SetPeerProfile(addr, profile); err != nil {
		t.Fatalf("SetPeerProfile: %v", err)
	}
	want := profile
	want.HasSavedSettings = true

	got := s.PeerProfile(addr)
	if got != want {
		t.Errorf("PeerProfile(%q) = %+v, want %+v", addr, got, want)
	}

	// Lookups by a differently-cased/formatted address must resolve to the
	// same config group.
	if got2 := s.PeerProfile("AA:BB:CC:DD:EE:FF"); got2 != want {
		t.Errorf("case-insensitive lookup = %+v, want %+v", got2, want)
	}
}
