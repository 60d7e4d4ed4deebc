package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the settings of an S3-compatible drop location.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // Optional custom endpoint (MinIO, LocalStack)
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3Driver keeps the drop location in a bucket. Directories are key prefixes,
// so MkdirAll is a no-op and Rename is a copy followed by a delete.
type S3Driver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Driver loads the AWS configuration and creates a client for cfg.Bucket.
func NewS3Driver(ctx context.Context, cfg S3Config) (*S3Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 transport requires a bucket")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := cleanPath(cfg.Prefix)
	if prefix != "" {
		prefix += "/"
	}
	return &S3Driver{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (d *S3Driver) key(name string) string {
	return d.prefix + cleanPath(name)
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func s3Error(err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}

func (d *S3Driver) List(ctx context.Context, dir string) ([]FileInfo, error) {
	prefix := d.key(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var infos []FileInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", dir, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			infos = append(infos, FileInfo{
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
		for _, common := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(common.Prefix), prefix), "/")
			if name != "" {
				infos = append(infos, FileInfo{Name: name, IsDir: true})
			}
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (d *S3Driver) Stat(ctx context.Context, name string) (FileInfo, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", name, s3Error(err))
	}
	return FileInfo{
		Name:    path.Base(name),
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

func (d *S3Driver) ReadFile(ctx context.Context, name string, limit int64) ([]byte, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, s3Error(err))
	}
	defer func() { _ = out.Body.Close() }()
	return readLimited(out.Body, name, limit)
}

func (d *S3Driver) WriteFile(ctx context.Context, name string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/xml"),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (d *S3Driver) Rename(ctx context.Context, from, to string) error {
	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(copySource(d.bucket, d.key(from))),
		Key:        aws.String(d.key(to)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", from, to, s3Error(err))
	}
	return d.Remove(ctx, from)
}

// copySource builds the bucket/key form CopyObject expects. Each key segment
// is escaped on its own so the separators survive.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func (d *S3Driver) Remove(ctx context.Context, name string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

func (d *S3Driver) MkdirAll(context.Context, string) error { return nil }

func (d *S3Driver) Close() error { return nil }
