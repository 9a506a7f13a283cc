package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/autopeer-io/fota/internal/fotaagent/flash"
)

func TestPrintPartitions(t *testing.T) {
	var out bytes.Buffer
	geos := []flash.Geometry{
		{Name: "boot", Size: 0x800000, EraseBlockSize: 0x20000, WriteBlockSize: 0x20000},
		{Name: "system", Size: 0x10000000, EraseBlockSize: 0x20000, WriteBlockSize: 0x20000},
	}
	if err := printPartitions(&out, geos); err != nil {
		t.Fatalf("printPartitions() = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header and 2 rows:\n%s", len(lines), out.String())
	}
	for _, want := range []string{"boot", "8.0 MiB", "0x20000", "64"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("boot row %q does not contain %q", lines[1], want)
		}
	}
	if !strings.Contains(lines[2], "256 MiB") {
		t.Errorf("system row %q does not show its size", lines[2])
	}
}

func TestCommandTree(t *testing.T) {
	cmd := NewFotaAgentCommand(t.Context())
	for _, name := range []string{"install", "watch", "fetch", "partitions"} {
		if c, _, err := cmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered: %v", name, err)
		}
	}
	if cmd.PersistentFlags().Lookup("flash.driver") == nil {
		t.Error("flash flags not registered on the root command")
	}
}
