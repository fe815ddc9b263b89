package uploads

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Result is what the chat client attaches to a message: the hosted URL
// plus a coarse type used to pick a renderer.
type Result struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Uploader stores a raw file and returns its public location. Storing
// a file does not notify any chat; the client sends the message with
// the returned URL itself.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader, size int64) (Result, error)
}

// MinioUploader is the object-store implementation of Uploader.
type MinioUploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioUploader connects to the store and ensures the bucket exists
// with a public read policy.
func NewMinioUploader(ctx context.Context, endpoint, accessKey, secretKey, bucket, publicURL string, secure bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		policy := fmt.Sprintf(`{
            "Version": "2012-10-17",
            "Statement": [{
                "Action": ["s3:GetObject"],
                "Effect": "Allow",
                "Principal": "*",
                "Resource": "arn:aws:s3:::%s/*"
            }]
        }`, bucket)
		if err := client.SetBucketPolicy(ctx, bucket, policy); err != nil {
			return nil, err
		}
	}

	return &MinioUploader{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Upload stores the blob under a random key and returns its URL.
func (u *MinioUploader) Upload(ctx context.Context, filename, contentType string, r io.Reader, size int64) (Result, error) {
	key := uuid.NewString() + path.Ext(filename)
	_, err := u.client.PutObject(ctx, u.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		URL:  fmt.Sprintf("%s/%s/%s", u.publicURL, u.bucket, key),
		Type: FileKind(contentType),
	}, nil
}

// FileKind folds a MIME type into the renderer categories the chat UI
// understands.
func FileKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "file"
	}
}
