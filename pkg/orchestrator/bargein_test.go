package orchestrator

import (
	"testing"
	"time"
)

func TestBargeInDetectorEnergyAllowedBeforePlayback(t *testing.T) {
	b := newBargeInDetector(200 * time.Millisecond)
	if !b.energyAllowed(true) {
		t.Fatal("expected energy trigger allowed before any playback has started")
	}
}

func TestBargeInDetectorEnergyRequiresStillPlaying(t *testing.T) {
	b := newBargeInDetector(0)
	if b.energyAllowed(false) {
		t.Fatal("expected energy trigger to require an outstanding playback estimate")
	}
}

func TestBargeInDetectorMasksGraceWindow(t *testing.T) {
	b := newBargeInDetector(100 * time.Millisecond)
	b.notePlaybackStart()

	if b.energyAllowed(true) {
		t.Fatal("expected energy trigger masked immediately after playback starts")
	}
	time.Sleep(120 * time.Millisecond)
	if !b.energyAllowed(true) {
		t.Fatal("expected energy trigger allowed once grace window elapses")
	}
}

func TestBargeInDetectorDisabledDuringGreeting(t *testing.T) {
	b := newBargeInDetector(0)
	b.setGreetingActive(true)
	if b.energyAllowed(true) {
		t.Fatal("expected energy trigger disabled while greeting is active")
	}
	b.setGreetingActive(false)
	if !b.energyAllowed(true) {
		t.Fatal("expected energy trigger allowed once greeting ends")
	}
}

func TestBargeInDetectorTranscriptAllowedIgnoresGrace(t *testing.T) {
	b := newBargeInDetector(time.Hour)
	b.notePlaybackStart()

	if b.transcriptAllowed(0, 1, true) {
		t.Fatal("empty transcript should not be allowed to interrupt")
	}
	if !b.transcriptAllowed(2, 1, true) {
		t.Fatal("a real transcript should bypass the energy grace window")
	}
}

func TestBargeInDetectorTranscriptRequiresStillPlaying(t *testing.T) {
	b := newBargeInDetector(0)
	if b.transcriptAllowed(5, 1, false) {
		t.Fatal("transcript trigger should require an outstanding playback estimate")
	}
}
