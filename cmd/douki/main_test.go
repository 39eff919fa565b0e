package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var shipSchema = filepath.Join("..", "..", "testdata", "ship.yaml")

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("output %q does not contain version %q", out, version)
	}
}

func TestSchemaValidateJSON(t *testing.T) {
	out, err := runCLI(t, "schema", "validate", "--json", shipSchema)
	if err != nil {
		t.Fatalf("schema validate: %v", err)
	}
	var got struct {
		Archetypes []archetypeReport `json:"archetypes"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(got.Archetypes) != 2 {
		t.Fatalf("expected 2 archetypes, got %d", len(got.Archetypes))
	}
	ship := got.Archetypes[0]
	if ship.Name != "ship" || len(ship.Bundles) != 2 {
		t.Errorf("unexpected ship report %+v", ship)
	}
	if len(ship.Fingerprint) != 16 {
		t.Errorf("fingerprint %q should be 16 hex digits", ship.Fingerprint)
	}
}

func TestSchemaValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	bad := "archetypes:\n  - id: 1\n    name: x\n    values:\n      - {index: 1, name: a, type: bool}\n"
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "schema", "validate", path); err == nil {
		t.Error("expected an error for a schema with an index gap")
	}
}

func TestSimulateReport(t *testing.T) {
	out, err := runCLI(t, "simulate", "--json", "--metrics", "--schema", shipSchema, "--archetype", "ship", "--ticks", "200")
	if err != nil {
		t.Fatalf("simulate: %v\n%s", err, out)
	}
	var rep report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if rep.Archetype != "ship" || rep.Ticks != 200 {
		t.Errorf("unexpected header %+v", rep)
	}
	if rep.InitBytes == 0 {
		t.Error("expected a non-empty full sync")
	}
	if len(rep.Bundles) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(rep.Bundles))
	}
	if rep.Bundles[1].VelocityBundles == 0 || rep.Bundles[1].ValueBundles == 0 {
		t.Errorf("expected both bundle types on the unreliable bundle, got %+v", rep.Bundles[1])
	}
	if len(rep.Errors) != 3 {
		t.Errorf("expected errors for 3 float values, got %+v", rep.Errors)
	}
	if len(rep.Metrics) == 0 {
		t.Error("expected metrics in the report")
	}
}

func TestSimulateUnknownArchetype(t *testing.T) {
	if _, err := runCLI(t, "simulate", "--schema", shipSchema, "--archetype", "tank"); err == nil {
		t.Error("expected an error for an unknown archetype")
	}
}

func TestSimulateReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "douki.yaml")
	if err := os.WriteFile(path, []byte("fixedDeltaSeconds: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "simulate", "--config", path, "--schema", shipSchema); err == nil {
		t.Error("expected the invalid config to be rejected")
	}
}

func TestLoadSettingsReadsEnvironment(t *testing.T) {
	t.Setenv("DOUKI_BUFFERLEADSECONDS", "0.9")
	t.Setenv("DOUKI_LOCALAUTHORITYID", "7")
	t.Setenv("DOUKI_VELOCITYFALLBACK_BITS", "20")

	sim, _, err := newRootCmd().Find([]string{"simulate"})
	if err != nil {
		t.Fatalf("find simulate: %v", err)
	}
	if err := sim.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	st, err := loadSettings(sim)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if st.cfg.BufferLeadSeconds != 0.9 {
		t.Errorf("bufferLeadSeconds = %g, want 0.9", st.cfg.BufferLeadSeconds)
	}
	if st.cfg.LocalAuthorityID != 7 {
		t.Errorf("localAuthorityID = %d, want 7", st.cfg.LocalAuthorityID)
	}
	if st.cfg.VelocityFallback.Bits != 20 || st.cfg.VelocityFallback.Lower != -20 {
		t.Errorf("velocityFallback = %+v, want bits 20 over the default range", st.cfg.VelocityFallback)
	}
	if st.cfg.FixedDeltaSeconds != 0.02 {
		t.Errorf("fixedDeltaSeconds = %g, want the default 0.02", st.cfg.FixedDeltaSeconds)
	}
}

func TestLoadSettingsEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "douki.yaml")
	if err := os.WriteFile(path, []byte("localAuthorityID: 3\natRestAfterSeconds: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOUKI_LOCALAUTHORITYID", "9")

	sim, _, err := newRootCmd().Find([]string{"simulate"})
	if err != nil {
		t.Fatalf("find simulate: %v", err)
	}
	if err := sim.ParseFlags([]string{"--config", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	st, err := loadSettings(sim)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if st.cfg.LocalAuthorityID != 9 {
		t.Errorf("localAuthorityID = %d, want the environment's 9", st.cfg.LocalAuthorityID)
	}
	if st.cfg.AtRestAfterSeconds != 2 {
		t.Errorf("atRestAfterSeconds = %g, want the file's 2", st.cfg.AtRestAfterSeconds)
	}
}
