package kb

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// uploadData walks dir and uploads every regular file to the bucket,
// keyed by its slash-separated path relative to dir. Hidden files are
// skipped. Returns the number of uploaded files.
func (p *Provisioner) uploadData(ctx context.Context, bucket, dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		if _, err := p.clients.Uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   f,
		}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		p.logger.Debug("uploaded document", "key", key)
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("upload data from %s: %w", dir, err)
	}
	return count, nil
}

// Sync uploads the documents in dataDir and runs an ingestion job so
// the knowledge base picks up new and changed files.
func (p *Provisioner) Sync(ctx context.Context, info *Info, dataDir string) error {
	if info.KnowledgeBaseID == "" || info.DataSourceID == "" {
		return fmt.Errorf("%w: knowledge base %s has no data source", ErrStateNotFound, info.Name)
	}
	n, err := p.uploadData(ctx, info.BucketName, dataDir)
	if err != nil {
		return err
	}
	p.logger.Info("uploaded documents", "count", n, "bucket", info.BucketName)
	return p.runIngestion(ctx, info)
}
