package payload

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/afero"

	"github.com/autopeer-io/fota/pkg/log"
	"github.com/autopeer-io/fota/pkg/options"
)

// ObjectStore is the part of an S3 client the fetcher needs.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	OpenObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type minioStore struct {
	*minio.Client
}

func (s minioStore) OpenObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return s.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// Fetcher downloads the payloads published for a device into the staging
// directory. Objects are expected under "<device>/<partition>.<kind>".
type Fetcher struct {
	store  ObjectStore
	bucket string
	fs     afero.Fs
}

func NewS3Fetcher(opts *options.S3Options, fs afero.Fs) (*Fetcher, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewFetcher(minioStore{client}, opts.BucketName, fs), nil
}

func NewFetcher(store ObjectStore, bucket string, fs afero.Fs) *Fetcher {
	return &Fetcher{store: store, bucket: bucket, fs: fs}
}

// Fetch downloads every recognized payload of device into dir and returns
// the written paths.
func (f *Fetcher) Fetch(ctx context.Context, device, dir string) ([]string, error) {
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var fetched []string
	for obj := range f.store.ListObjects(ctx, f.bucket, minio.ListObjectsOptions{Prefix: device + "/"}) {
		if obj.Err != nil {
			return fetched, fmt.Errorf("list %s/%s: %w", f.bucket, device, obj.Err)
		}
		name := path.Base(obj.Key)
		if !IsPayloadName(name) {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := f.download(ctx, obj.Key, dst); err != nil {
			return fetched, err
		}
		log.Info("Fetched payload", "object", obj.Key, "path", dst, "size", obj.Size)
		fetched = append(fetched, dst)
	}
	return fetched, nil
}

func (f *Fetcher) download(ctx context.Context, key, dst string) error {
	obj, err := f.store.OpenObject(ctx, f.bucket, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	tmp := dst + ".part"
	out, err := f.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, obj); err != nil {
		_ = out.Close()
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return f.fs.Rename(tmp, dst)
}
