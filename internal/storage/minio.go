package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"sort"
	"time"

	"github.com/maneesh/cloudchest/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinioStore implements ObjectStore against MinIO (or any S3-compatible
// store) using the low-level multipart API, with tracing on every call.
type MinioStore struct {
	core       *minio.Core
	bucketName string
}

// NewMinioStore initializes the MinIO client and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioStore, error) {
	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ms := &MinioStore{
		core:       core,
		bucketName: bucketName,
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := core.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Printf("Creating bucket: %s", bucketName)
		err = core.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("Bucket %s created successfully", bucketName)
	}

	return ms, nil
}

// CreateMultipartUpload begins a multipart write with tracing
func (ms *MinioStore) CreateMultipartUpload(ctx context.Context, objectKey, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.create_multipart_upload",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.String("content_type", contentType),
		),
	)
	defer span.End()

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadID, err := ms.core.NewMultipartUpload(ctx, ms.bucketName, objectKey, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to begin multipart upload: %w", err)
	}

	span.SetAttributes(attribute.String("upload_id", uploadID))
	return uploadID, nil
}

// UploadPart appends one numbered part to an in-progress write with tracing
func (ms *MinioStore) UploadPart(ctx context.Context, objectKey, uploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.upload_part",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.String("upload_id", uploadID),
			attribute.Int("part_number", partNumber),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	part, err := ms.core.PutObjectPart(ctx, ms.bucketName, objectKey, uploadID, partNumber, data, size, minio.PutObjectPartOptions{})
	if err != nil {
		span.RecordError(err)
		if isNoSuchUpload(err) {
			return "", ErrUploadNotFound
		}
		return "", fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	span.SetAttributes(attribute.String("etag", part.ETag))
	return part.ETag, nil
}

// CompleteMultipartUpload finalizes the write into a single object with
// tracing. Parts are sorted defensively; the store requires strictly
// ascending, contiguous part numbers.
func (ms *MinioStore) CompleteMultipartUpload(ctx context.Context, objectKey, uploadID string, parts []models.PartETag) error {
	ctx, span := tracer.Start(ctx, "minio.complete_multipart_upload",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.String("upload_id", uploadID),
			attribute.Int("part_count", len(parts)),
		),
	)
	defer span.End()

	completeParts := make([]minio.CompletePart, len(parts))
	for i, p := range parts {
		completeParts[i] = minio.CompletePart{
			PartNumber: p.PartNumber,
			ETag:       p.ETag,
		}
	}
	sort.Slice(completeParts, func(i, j int) bool {
		return completeParts[i].PartNumber < completeParts[j].PartNumber
	})

	_, err := ms.core.CompleteMultipartUpload(ctx, ms.bucketName, objectKey, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		span.RecordError(err)
		if isNoSuchUpload(err) {
			return ErrUploadNotFound
		}
		if isInvalidParts(err) {
			return fmt.Errorf("%w: %s", ErrInvalidParts, minio.ToErrorResponse(err).Message)
		}
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	span.SetAttributes(attribute.Bool("complete_success", true))
	return nil
}

// AbortMultipartUpload abandons an in-progress write with tracing
func (ms *MinioStore) AbortMultipartUpload(ctx context.Context, objectKey, uploadID string) error {
	ctx, span := tracer.Start(ctx, "minio.abort_multipart_upload",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.String("upload_id", uploadID),
		),
	)
	defer span.End()

	err := ms.core.AbortMultipartUpload(ctx, ms.bucketName, objectKey, uploadID)
	if err != nil {
		span.RecordError(err)
		if isNoSuchUpload(err) {
			return ErrUploadNotFound
		}
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}

	return nil
}

// PresignedDownloadURL returns a temporary GET URL for an assembled object
func (ms *MinioStore) PresignedDownloadURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "minio.presigned_download_url",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
		),
	)
	defer span.End()

	u, err := ms.core.PresignedGetObject(ctx, ms.bucketName, objectKey, expiry, url.Values{})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to presign download URL: %w", err)
	}

	return u.String(), nil
}

func isNoSuchUpload(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchUpload"
}

func isInvalidParts(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "InvalidPart" || code == "InvalidPartOrder"
}
