package archive

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures a MinioArchive.
type MinioOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioArchive stores snapshots as objects in a MinIO bucket.
type MinioArchive struct {
	name   string
	bucket string
	client *minio.Client
}

// NewMinioArchive creates the client. It does not contact the server.
func NewMinioArchive(name string, opts MinioOptions) (*MinioArchive, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("minio archive requires minio_endpoint and minio_bucket to be set")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.UseSSL,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinioArchive{name: name, bucket: opts.Bucket, client: client}, nil
}

func (a *MinioArchive) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	info, err := a.client.PutObject(ctx, a.bucket, name, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("uploading %s to %s: %w", name, a.bucket, err)
	}
	if info.Size != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, info.Size)
	}
	return nil
}

func (a *MinioArchive) Get(ctx context.Context, name string, w io.Writer) error {
	obj, err := a.client.GetObject(ctx, a.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return a.getErr(name, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	if _, err := io.Copy(w, obj); err != nil {
		return a.getErr(name, err)
	}
	return nil
}

func (a *MinioArchive) getErr(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return fmt.Errorf("downloading %s from %s: %w", name, a.bucket, err)
}

func (a *MinioArchive) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", a.bucket, obj.Err)
		}
		entries = append(entries, Entry{Name: obj.Key, Size: obj.Size, ModTime: obj.LastModified.UTC()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ValidateSetup checks that the bucket exists.
func (a *MinioArchive) ValidateSetup(ctx context.Context) error {
	ok, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", a.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", a.bucket)
	}
	return nil
}

// Compile-time check that MinioArchive implements Archive
var _ Archive = (*MinioArchive)(nil)
