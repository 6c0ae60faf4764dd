package winc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunLuaCloneScript_FullWorkflow(t *testing.T) {
	flash := newMemFlash(testMegabits)
	flash.trim = makeEfuseRaw(1234, true, 2, false)
	dir := t.TempDir()

	script := `
size = extract("golden.bin")
log("size", size)
if not compare("golden.bin") then
	error("fresh extract should match")
end
changed = rebuild_cal()
log("changed", changed)
trim = read_trim()
log("offset", trim.freq_offset)
tbl = build_cal_table(trim.freq_offset)
log("tablelen", string.len(tbl))
`
	logs, err := RunLuaCloneScript(script, flash, &recordProgress{}, dir)
	if err != nil {
		t.Fatalf("Error running script: %s", err)
	}
	expected := []string{
		"size\t131072",
		"changed\ttrue",
		"offset\t1234",
		"tablelen\t796",
	}
	for _, line := range expected {
		if !strings.Contains(logs, line) {
			t.Fatalf("Expected log line %q, logs were:\n%s", line, logs)
		}
	}
	golden, err := os.ReadFile(filepath.Join(dir, "golden.bin"))
	if err != nil {
		t.Fatalf("Script didn't produce golden image: %s", err)
	}
	if len(golden) != int(testMegabits)<<17 {
		t.Fatalf("Golden image wrong size: %d", len(golden))
	}
	// Rebuild should have planted the table in the calibration region
	table := BuildPllTable(1234)
	for i, b := range table {
		if flash.data[CalRegionOffset+CalTableOffset+uint32(i)] != b {
			t.Fatalf("Calibration table not written at offset %d", i)
		}
	}
}

func TestRunLuaCloneScript_UpdateSkipsCalRegion(t *testing.T) {
	flash := newMemFlash(testMegabits)
	dir := t.TempDir()

	// Image differs from flash everywhere, including the cal sector
	image := make([]byte, testMegabits<<17)
	for i := range image {
		image[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.bin"), image, 0644); err != nil {
		t.Fatalf("Couldn't write image: %s", err)
	}
	calBefore := make([]byte, CalRegionSize)
	copy(calBefore, flash.data[CalRegionOffset:])

	script := `update("new.bin")`
	_, err := RunLuaCloneScript(script, flash, &recordProgress{}, dir)
	if err != nil {
		t.Fatalf("Error running script: %s", err)
	}
	for i := range calBefore {
		if flash.data[CalRegionOffset+uint32(i)] != calBefore[i] {
			t.Fatalf("Update through script touched calibration region at %d", i)
		}
	}
	for i := 0; i < SectorSize; i++ {
		if flash.data[i] != image[i] {
			t.Fatalf("Update through script didn't write sector 0 (byte %d)", i)
		}
	}
}

func TestRunLuaCloneScript_ErrorSurfaces(t *testing.T) {
	flash := newMemFlash(testMegabits)
	flash.failRead = true
	logs, err := RunLuaCloneScript(`log("before") extract("x.bin") log("after")`,
		flash, &recordProgress{}, t.TempDir())
	if err == nil {
		t.Fatalf("Expected script error from failed extract")
	}
	if !strings.Contains(logs, "before") {
		t.Fatalf("Logs before the failure should survive, got:\n%s", logs)
	}
	if strings.Contains(logs, "after") {
		t.Fatalf("Script kept running past the failure:\n%s", logs)
	}
}

func TestRunLuaCloneScript_Helpers(t *testing.T) {
	script := `
log(hex("414243"))
log(base64("SGVsbG8="))
j = json('{"a": 5}')
log(j.a)
m = toml('offset = 99')
log(m.offset)
`
	logs, err := RunLuaCloneScript(script, newMemFlash(testMegabits), &recordProgress{}, "")
	if err != nil {
		t.Fatalf("Error running script: %s", err)
	}
	for _, line := range []string{"ABC", "Hello", "5", "99"} {
		if !strings.Contains(logs, line) {
			t.Fatalf("Expected %q in logs:\n%s", line, logs)
		}
	}
}
