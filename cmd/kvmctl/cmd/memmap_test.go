package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadMemoryMap(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "map.yaml", `
regions:
  - name: rom
    guest: 0x0
    size: 0x10000
    file: firmware.bin
  - guest: 0x40000000
`)

	mm, err := LoadMemoryMap(path, 4096)
	if err != nil {
		t.Fatalf("LoadMemoryMap() failed: %v", err)
	}
	if mm.Mode != "aarch64" {
		t.Errorf("Mode = %q, want aarch64", mm.Mode)
	}
	if len(mm.Regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(mm.Regions))
	}

	rom := mm.Regions[0]
	if rom.Name != "rom" || rom.Guest != 0 || rom.Size != 0x10000 {
		t.Errorf("unexpected rom region %+v", rom)
	}
	if rom.File != filepath.Join(dir, "firmware.bin") {
		t.Errorf("File = %q, want it resolved against %s", rom.File, dir)
	}

	ram := mm.Regions[1]
	if ram.Name != "region1" {
		t.Errorf("default name = %q, want region1", ram.Name)
	}
	if ram.Size != 4096 {
		t.Errorf("default size = %d, want one page", ram.Size)
	}
}

func TestLoadMemoryMapErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "regions: [\n"},
		{"no regions", "mode: aarch64\n"},
		{"bad mode", "mode: thumb\nregions:\n  - guest: 0x1000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "map.yaml", tt.content)
			if _, err := LoadMemoryMap(path, 4096); err == nil {
				t.Errorf("LoadMemoryMap() succeeded, want error")
			}
		})
	}

	if _, err := LoadMemoryMap(filepath.Join(t.TempDir(), "missing.yaml"), 4096); err == nil {
		t.Errorf("LoadMemoryMap() of a missing file succeeded")
	}
}

func TestMergeSpans(t *testing.T) {
	segs := []loadSegment{
		{Name: "__DATA", Addr: 0x100008000, Memsz: 0x100},
		{Name: "__TEXT", Addr: 0x100000000, Memsz: 0x4010},
		{Name: "__DATA_CONST", Addr: 0x100004800, Memsz: 0x200},
	}

	got := mergeSpans(segs, 0x4000)
	if len(got) != 2 {
		t.Fatalf("mergeSpans() = %+v, want 2 spans", got)
	}
	if got[0].Start != 0x100000000 || got[0].End != 0x100008000 || len(got[0].Names) != 2 {
		t.Errorf("first span = %+v", got[0])
	}
	if got[1].Start != 0x100008000 || got[1].End != 0x10000c000 {
		t.Errorf("second span = %+v", got[1])
	}
}

func TestPageRounding(t *testing.T) {
	if got := pageRoundUp(0x1001, 0x1000); got != 0x2000 {
		t.Errorf("pageRoundUp = %#x", got)
	}
	if got := pageRoundUp(0x2000, 0x1000); got != 0x2000 {
		t.Errorf("pageRoundUp aligned = %#x", got)
	}
	if got := pageRoundDown(0x1fff, 0x1000); got != 0x1000 {
		t.Errorf("pageRoundDown = %#x", got)
	}
}
