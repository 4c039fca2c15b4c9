package script

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		script  Script
		wantErr string
	}{
		{
			name:   "Default",
			script: Default(),
		},
		{
			name:    "Empty",
			script:  Script{},
			wantErr: "no phases",
		},
		{
			name:    "ZeroDuration",
			script:  Script{Cue("cue", 0, "")},
			wantErr: "invalid duration",
		},
		{
			name:    "BadLabel",
			script:  Script{Recording("task", time.Second, Label(2), "")},
			wantErr: "invalid label",
		},
		{
			name:   "UnlabeledCueIgnoresLabel",
			script: Script{{Name: "cue", Duration: time.Second, Label: Label(7)}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.script.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() returned error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, expected %q", err, tc.wantErr)
			}
		})
	}

	if !errors.Is(Script(nil).Validate(), ErrEmptyScript) {
		t.Errorf("nil script should report ErrEmptyScript")
	}
}

func TestDefaultScript(t *testing.T) {
	s := Default()
	if len(s) != 10 {
		t.Fatalf("Default() has %d phases, expected 10", len(s))
	}
	if n := s.RecordingPhases(); n != 2 {
		t.Errorf("RecordingPhases() = %d, expected 2", n)
	}
	if d := s.BlockDuration(); d != 30*time.Second {
		t.Errorf("BlockDuration() = %v, expected 30s", d)
	}
	if !s[3].Record || s[3].Label != Switch {
		t.Errorf("phase 3 = %v, expected SWITCH recording", s[3])
	}
	if !s[8].Record || s[8].Label != Rest {
		t.Errorf("phase 8 = %v, expected REST recording", s[8])
	}
}

func TestLabelString(t *testing.T) {
	if Rest.String() != "REST" || Switch.String() != "SWITCH" {
		t.Errorf("unexpected label names: %s, %s", Rest, Switch)
	}
	if Label(5).Valid() {
		t.Errorf("Label(5) should not be valid")
	}
}

func TestParseLabel(t *testing.T) {
	testCases := []struct {
		in   string
		want Label
	}{
		{"REST", Rest},
		{"rest", Rest},
		{"0", Rest},
		{" Switch ", Switch},
		{"1", Switch},
	}
	for _, tc := range testCases {
		got, err := ParseLabel(tc.in)
		if err != nil {
			t.Errorf("ParseLabel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLabel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseLabel("left hand"); err == nil {
		t.Errorf("expected error for unknown label")
	}
}
