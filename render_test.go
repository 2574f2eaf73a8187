package harvester

import (
	"strings"
	"testing"
)

func TestProbeRendererOff(t *testing.T) {
	r, err := ProbeRenderer("off", "test-agent")
	if err != nil {
		t.Fatalf("Expected no error for engine off, got %v", err)
	}
	if r != nil {
		t.Errorf("Expected nil renderer for engine off, got %s", r.Name())
	}
}

func TestProbeRendererUnknownEngine(t *testing.T) {
	r, err := ProbeRenderer("phantomjs", "test-agent")
	if err == nil {
		t.Fatal("Expected an error for an unknown engine")
	}
	if !strings.Contains(err.Error(), `unknown render engine "phantomjs"`) {
		t.Errorf("Expected engine name in error, got %q", err.Error())
	}
	if r != nil {
		t.Errorf("Expected nil renderer, got %s", r.Name())
	}
}
