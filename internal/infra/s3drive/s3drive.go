package s3drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/sunr3d/folderzip/internal/interfaces/infra"
	"github.com/sunr3d/folderzip/models"
)

const (
	delimiter       = "/"
	maxPageSize     = 1000
	mimeTypeUnknown = "application/octet-stream"
)

// S3API - часть клиента S3, которая нужна хранилищу.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Options struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
	PageSize       int
}

var _ infra.Drive = (*s3Drive)(nil)

// s3Drive: share - бакет, linkID - ключ объекта. Папки - общие префиксы
// ключей с разделителем "/", пустой linkID означает корень бакета.
type s3Drive struct {
	client   S3API
	pageSize int32
	logger   *zap.Logger
}

// New загружает учетные данные через стандартную цепочку AWS SDK.
func New(ctx context.Context, opts Options, log *zap.Logger) (infra.Drive, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию AWS: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})
	return NewWithClient(client, opts.PageSize, log), nil
}

func NewWithClient(client S3API, pageSize int, log *zap.Logger) infra.Drive {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &s3Drive{
		client:   client,
		pageSize: int32(pageSize),
		logger:   log,
	}
}

func (d *s3Drive) ListChildren(ctx context.Context, shareID, linkID string) ([]models.Link, error) {
	prefix, err := folderPrefix(shareID, linkID)
	if err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(shareID),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
		MaxKeys:   aws.Int32(d.pageSize),
	}

	var (
		links []models.Link
		found = prefix == ""
	)
	for {
		out, err := d.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, d.requestErr(ctx, err, shareID, linkID)
		}

		for _, cp := range out.CommonPrefixes {
			key := aws.ToString(cp.Prefix)
			name := path.Base(strings.TrimSuffix(key, delimiter))
			links = append(links, models.Link{
				LinkID: strings.TrimSuffix(key, delimiter),
				Name:   name,
				Kind:   models.LinkKindFolder,
			})
			found = true
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			found = true
			// маркер самой папки
			if key == prefix {
				continue
			}
			links = append(links, models.Link{
				LinkID:    key,
				Name:      path.Base(key),
				Kind:      models.LinkKindFile,
				Size:      aws.ToInt64(obj.Size),
				MediaType: mimeType(key),
			})
		}

		if !aws.ToBool(out.IsTruncated) || aws.ToString(out.NextContinuationToken) == "" {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrLinkNotFound, shareID, linkID)
	}

	d.logger.Debug("листинг префикса получен",
		zap.String("bucket", shareID),
		zap.String("prefix", prefix),
		zap.Int("children", len(links)),
	)
	return links, nil
}

func (d *s3Drive) FetchContent(ctx context.Context, shareID, linkID string) (io.ReadCloser, error) {
	if shareID == "" || linkID == "" || strings.HasSuffix(linkID, delimiter) {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidPath, shareID, linkID)
	}

	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(shareID),
		Key:    aws.String(linkID),
	})
	if err != nil {
		return nil, d.requestErr(ctx, err, shareID, linkID)
	}
	return out.Body, nil
}

func (d *s3Drive) requestErr(ctx context.Context, err error, shareID, linkID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %s/%s", ErrLinkNotFound, shareID, linkID)
	}
	return fmt.Errorf("%w: %s/%s: %w", ErrRequestFailed, shareID, linkID, err)
}

func folderPrefix(shareID, linkID string) (string, error) {
	if shareID == "" {
		return "", fmt.Errorf("%w: пустой бакет", ErrInvalidPath)
	}
	linkID = strings.Trim(strings.TrimSpace(linkID), delimiter)
	if linkID == "" || linkID == "." {
		return "", nil
	}
	return linkID + delimiter, nil
}

func mimeType(key string) string {
	if ext := path.Ext(key); ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			return mimeType
		}
	}
	return mimeTypeUnknown
}
