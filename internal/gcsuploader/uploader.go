package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/logger"
	"github.com/google/uuid"
)

const serviceName = "gcs"

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// GCSStorageService stores statement files in one bucket and reads them back
// by gs:// URI. It assumes Application Default Credentials are configured
// (gcloud auth application-default login).
type GCSStorageService struct {
	client *storage.Client
	bucket string
	newID  func() string
	now    func() time.Time
}

// NewGCSStorageService creates a storage client bound to bucket.
func NewGCSStorageService(ctx context.Context, bucket string) (*GCSStorageService, error) {
	if bucket == "" {
		return nil, &domain.ValidationError{Field: "bucket", Reason: "is required"}
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "create client", Err: err}
	}
	return &GCSStorageService{client: client, bucket: bucket, newID: uuid.NewString, now: time.Now}, nil
}

// Close releases the storage client.
func (s *GCSStorageService) Close() error {
	return s.client.Close()
}

// Upload writes r under a fresh object name derived from filename and returns
// the object's gs:// URI.
func (s *GCSStorageService) Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	objectName := ObjectName(s.now(), s.newID(), filename)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close aborts the write instead of committing a partial object.
		cancel()
		_ = w.Close()
		return "", &domain.ExternalServiceError{Service: serviceName, Op: "write object", Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &domain.ExternalServiceError{Service: serviceName, Op: "finalize upload", Err: err}
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, objectName)
	log := logger.FromContext(ctx)
	log.Info().
		Str("uri", uri).
		Str("content_type", contentType).
		Msg("File uploaded")
	return uri, nil
}

// UploadFile uploads a local file and returns its gs:// URI.
func (s *GCSStorageService) UploadFile(ctx context.Context, filePath, contentType string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()
	return s.Upload(ctx, filepath.Base(filePath), contentType, f)
}

// Fetch downloads the object behind a gs:// URI.
func (s *GCSStorageService) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &domain.NotFoundError{Kind: "file", ID: gcsURI}
		}
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "open object", Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: serviceName, Op: "read object", Err: err}
	}
	return data, nil
}

// ObjectName builds the storage path for an upload: uploads/YYYY/MM/<id>-<base name>.
func ObjectName(now time.Time, id, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "statement"
	}
	base = strings.ReplaceAll(base, " ", "_")
	return fmt.Sprintf("uploads/%04d/%02d/%s-%s", now.Year(), int(now.Month()), id, base)
}

// ParseGCSURI splits gs://bucket/path into bucket and object path.
func ParseGCSURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", &domain.ValidationError{Field: "gcs_uri", Reason: "must start with gs://"}
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &domain.ValidationError{Field: "gcs_uri", Reason: "must name a bucket and an object"}
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
