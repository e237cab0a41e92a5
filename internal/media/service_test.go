package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/config"
)

func TestNewServiceUsesFilesystemWithoutBucket(t *testing.T) {
	cfg := &config.Config{
		MediaRoot:      t.TempDir(),
		BaseURL:        "https://rideatlas.example",
		MediaURLPrefix: "/media",
	}

	svc, err := NewService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	if _, ok := svc.storage.(*FilesystemStorage); !ok {
		t.Fatalf("NewService() storage type = %T, want *FilesystemStorage", svc.storage)
	}
	if err := svc.CheckStorageAccess(context.Background()); err != nil {
		t.Fatalf("CheckStorageAccess() error: %v", err)
	}
}

func TestServicePutAndRemoveOnFilesystem(t *testing.T) {
	root := t.TempDir()
	svc := NewServiceWithStorage(NewFilesystemStorage(root, publicPrefix("https://rideatlas.example/", "media"), zerolog.Nop()), zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }

	url, err := svc.Put(context.Background(), []byte("jpeg"), "Passo Giau.JPG")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if !strings.HasPrefix(url, "https://rideatlas.example/media/batch/2026/03/") {
		t.Fatalf("unexpected url %q", url)
	}
	if !strings.HasSuffix(url, "-passo-giau.jpg") {
		t.Fatalf("expected sanitized filename in url %q", url)
	}

	key := strings.TrimPrefix(url, "https://rideatlas.example/media/")
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("expected stored file, got %q err=%v", data, err)
	}

	if err := svc.Remove(context.Background(), url); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(key))); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err=%v", err)
	}
	if err := svc.Remove(context.Background(), "https://elsewhere.example/x.jpg"); err == nil {
		t.Fatal("expected foreign url to be rejected")
	}
}

func TestFilesystemStorageRejectsEscapingKeys(t *testing.T) {
	fs := NewFilesystemStorage(t.TempDir(), "/media/", zerolog.Nop())
	for _, key := range []string{"../outside.jpg", "", "/etc/passwd"} {
		if err := fs.Store(context.Background(), key, "image/jpeg", strings.NewReader("x"), 1); err == nil {
			t.Errorf("Store(%q) expected error", key)
		}
	}
}

func TestBuildObjectKey(t *testing.T) {
	now := time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC)
	got := buildObjectKey(now, "abc", "tappe/01-x/tappa.gpx")
	if got != "batch/2026/11/abc-tappa.gpx" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"Photo 1.JPG":       "photo-1.jpg",
		"città è bella.png": "citt-bella.png",
		"../../etc/passwd":  "passwd",
		"...":               "file",
		"main.gpx":          "main.gpx",
	}
	for in, want := range tests {
		if got := safeFilename(in); got != want {
			t.Errorf("safeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"a.gpx":  "application/gpx+xml",
		"a.MOV":  "video/quicktime",
		"a.webp": "image/webp",
		"a.png":  "image/png",
		"a.bin":  "application/octet-stream",
	}
	for in, want := range tests {
		if got := contentTypeFor(in); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestS3BaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"cdn", S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example/"}, "https://cdn.example/"},
		{"path style", S3Config{Bucket: "b", Endpoint: "http://minio:9000", UsePathStyle: true}, "http://minio:9000/b/"},
		{"virtual host", S3Config{Bucket: "b", Endpoint: "https://fra1.digitaloceanspaces.com"}, "https://b.fra1.digitaloceanspaces.com/"},
		{"aws", S3Config{Bucket: "b", Region: "eu-south-1"}, "https://b.s3.eu-south-1.amazonaws.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s3BaseURL(tt.cfg); got != tt.want {
				t.Fatalf("s3BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	puts    map[string]string
	deleted []string
	failPut bool
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("access denied")
	}
	body, _ := io.ReadAll(in.Body)
	f.puts[aws.ToString(in.Key)] = aws.ToString(in.ContentType) + ":" + string(body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	modified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for key, body := range f.puts {
		if !strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(body))),
			LastModified: aws.Time(modified),
		})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3StoragePutThroughService(t *testing.T) {
	fake := &fakeS3{puts: map[string]string{}}
	backend := newS3StorageWithClient(fake, S3Config{Bucket: "rides", PublicBaseURL: "https://cdn.example"}, zerolog.Nop())
	svc := NewServiceWithStorage(backend, zerolog.Nop())

	url, err := svc.Put(context.Background(), []byte("<gpx/>"), "main.gpx")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	key := strings.TrimPrefix(url, "https://cdn.example/")
	if fake.puts[key] != "application/gpx+xml:<gpx/>" {
		t.Fatalf("unexpected stored object %q for key %q", fake.puts[key], key)
	}

	if err := svc.Remove(context.Background(), url); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != key {
		t.Fatalf("unexpected deletes %v", fake.deleted)
	}

	fake.failPut = true
	if _, err := svc.Put(context.Background(), []byte("x"), "a.jpg"); err == nil {
		t.Fatal("expected put failure to surface")
	}
}
