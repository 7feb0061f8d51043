package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mkoval8/venuebot/internal/domain"
)

// archivePartSize is the S3 multipart minimum (5 MiB). A monthly JSONL dump
// usually fits in one part; a historic backfill across many months can
// exceed it.
const archivePartSize int64 = 5 * 1024 * 1024

// Writer uploads the archive objects the retention loop produces: JSONL
// dumps of aged trades and audit entries, keyed archive/<kind>/YYYY-MM.jsonl.
// Every put goes through the upload manager, so oversized dumps become
// multipart uploads without the archiver caring.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter builds a Writer targeting the client's configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = archivePartSize
		}),
		bucket: c.Bucket(),
	}
}

// Put streams data to the object at path.
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
