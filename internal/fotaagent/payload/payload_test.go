package payload

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
)

func stage(t *testing.T, fs afero.Fs, files ...string) {
	t.Helper()
	for _, f := range files {
		if err := afero.WriteFile(fs, "/data/"+f, []byte("payload"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		want    *Set
		wantErr error
	}{
		{
			name:  "single delta",
			files: []string{"system.delta"},
			want:  &Set{Mode: core.ModeDelta, Files: map[string]string{"system": "/data/system.delta"}},
		},
		{
			name:  "deltas win over images",
			files: []string{"boot.delta", "system.img", "recovery.delta"},
			want: &Set{Mode: core.ModeDelta, Files: map[string]string{
				"boot":     "/data/boot.delta",
				"recovery": "/data/recovery.delta",
			}},
		},
		{
			name:  "image fallback",
			files: []string{"boot.img", "system.img"},
			want: &Set{Mode: core.ModeImage, Files: map[string]string{
				"boot":   "/data/boot.img",
				"system": "/data/system.img",
			}},
		},
		{
			name:    "nothing staged",
			files:   []string{"userdata.delta", "notes.txt"},
			wantErr: core.ErrNoPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			_ = fs.MkdirAll("/data", 0o755)
			stage(t, fs, tt.files...)

			got, err := Scan(fs, "/data")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Scan() error = %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Scan() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetTargetsOrder(t *testing.T) {
	s := &Set{Files: map[string]string{"recovery": "r", "boot": "b", "system": "s"}}
	if diff := cmp.Diff([]string{"boot", "system", "recovery"}, s.Targets()); diff != "" {
		t.Errorf("Targets() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsPayloadName(t *testing.T) {
	for name, want := range map[string]bool{
		"boot.delta":      true,
		"system.img":      true,
		"recovery.delta":  true,
		"userdata.img":    false,
		"system.delta.1":  false,
		"system.img.part": false,
	} {
		if got := IsPayloadName(name); got != want {
			t.Errorf("IsPayloadName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/data", 0o755)
	stage(t, fs, "boot.delta", "system.img", "keep.txt")

	if err := Remove(fs, "/data"); err != nil {
		t.Fatalf("Remove() = %v", err)
	}
	for _, f := range []string{"boot.delta", "system.img"} {
		if ok, _ := afero.Exists(fs, "/data/"+f); ok {
			t.Errorf("%s still present", f)
		}
	}
	if ok, _ := afero.Exists(fs, "/data/keep.txt"); !ok {
		t.Error("unrelated file removed")
	}
	// A second pass over an empty directory is fine.
	if err := Remove(fs, "/data"); err != nil {
		t.Errorf("second Remove() = %v", err)
	}
}
