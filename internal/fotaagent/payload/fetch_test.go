package payload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
)

type fakeStore struct {
	objects map[string][]byte
	listErr error
	opened  []string
}

func (s *fakeStore) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(s.objects)+1)
	for _, key := range []string{"dev-1/boot.delta", "dev-1/readme.md", "dev-1/system.delta", "dev-2/system.delta"} {
		data, ok := s.objects[key]
		if !ok || len(key) < len(opts.Prefix) || key[:len(opts.Prefix)] != opts.Prefix {
			continue
		}
		ch <- minio.ObjectInfo{Key: key, Size: int64(len(data))}
	}
	if s.listErr != nil {
		ch <- minio.ObjectInfo{Err: s.listErr}
	}
	close(ch)
	return ch
}

func (s *fakeStore) OpenObject(_ context.Context, _, key string) (io.ReadCloser, error) {
	s.opened = append(s.opened, key)
	return io.NopCloser(bytes.NewReader(s.objects[key])), nil
}

func TestFetch(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"dev-1/boot.delta":   []byte("boot"),
		"dev-1/readme.md":    []byte("skip"),
		"dev-1/system.delta": []byte("system"),
		"dev-2/system.delta": []byte("other"),
	}}
	fs := afero.NewMemMapFs()

	got, err := NewFetcher(store, "fota", fs).Fetch(context.Background(), "dev-1", "/data")
	if err != nil {
		t.Fatalf("Fetch() = %v", err)
	}
	if diff := cmp.Diff([]string{"/data/boot.delta", "/data/system.delta"}, got); diff != "" {
		t.Errorf("Fetch() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"dev-1/boot.delta", "dev-1/system.delta"}, store.opened); diff != "" {
		t.Errorf("opened objects mismatch (-want +got):\n%s", diff)
	}

	data, err := afero.ReadFile(fs, "/data/system.delta")
	if err != nil || string(data) != "system" {
		t.Errorf("system.delta = %q, %v", data, err)
	}
	if ok, _ := afero.Exists(fs, "/data/system.delta.part"); ok {
		t.Error("temporary download left behind")
	}
}

func TestFetchListError(t *testing.T) {
	boom := errors.New("access denied")
	store := &fakeStore{objects: map[string][]byte{}, listErr: boom}
	_, err := NewFetcher(store, "fota", afero.NewMemMapFs()).Fetch(context.Background(), "dev-1", "/data")
	if !errors.Is(err, boom) {
		t.Errorf("Fetch() = %v, want %v", err, boom)
	}
}
