package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ehr/triage/internal/domain/triage"
)

func TestParseVitals(t *testing.T) {
	got, err := parseVitals([]string{"heart_rate=160", " spo2 = 91.5 ", "rhythm=irregular"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["heart_rate"] != 160.0 || got["spo2"] != 91.5 {
		t.Errorf("expected numeric vitals, got %v", got)
	}
	if got["rhythm"] != "irregular" {
		t.Errorf("expected raw string for non-numeric value, got %v", got["rhythm"])
	}
}

func TestParseVitals_Invalid(t *testing.T) {
	for _, in := range []string{"heart_rate", "=12", "spo2="} {
		if _, err := parseVitals([]string{in}); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestResolveCommand(t *testing.T) {
	out := runCommand(t, "resolve", "--presentation", "chest_pain", "--answer", "cardiac_pain")

	var res triage.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("unmarshal output %q: %v", out, err)
	}
	if res.Tier != triage.Orange {
		t.Errorf("expected ORANGE, got %s", res.Tier)
	}
	if res.Presentation != "chest_pain" || res.FellBack {
		t.Errorf("unexpected presentation %q (fell back %v)", res.Presentation, res.FellBack)
	}
}

func TestResolveCommand_Vitals(t *testing.T) {
	out := runCommand(t, "resolve", "--presentation", "shortness_breath", "--vital", "spo2=85")

	var res triage.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if res.Tier != triage.Red {
		t.Errorf("expected RED for spo2 85, got %s (%s)", res.Tier, res.Reason)
	}
}

func TestResolveCommand_NothingTriggered(t *testing.T) {
	out := runCommand(t, "resolve", "--presentation", "abdominal_pain", "--deny", "moderate_pain")

	var res triage.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if res.Tier != triage.Green || res.Reason != "No alarm signs identified" {
		t.Errorf("expected default GREEN, got %s (%s)", res.Tier, res.Reason)
	}
}

func TestCatalogCommand(t *testing.T) {
	out := runCommand(t, "catalog")
	for _, want := range []string{"GENERAL", "CHEST_PAIN", "cardiac_pain", "PREGNANCY_LABOR"} {
		if !strings.Contains(out, want) {
			t.Errorf("catalog output missing %q", want)
		}
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "migrate": false, "resolve": false, "catalog": false}
	for _, c := range rootCmd().Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
