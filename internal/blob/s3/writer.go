package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// uploadPartSize is the part size handed to the upload manager. Archive
// batches are usually well under one part, in which case the manager issues
// a single PutObject.
const uploadPartSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter on a bucket.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter builds a Writer over the client's bucket. Uploads go through the
// SDK upload manager so oversized exports split into parts automatically.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.api, func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		bucket: c.bucket,
	}
}

// Put stores data at path with the given content type.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}
