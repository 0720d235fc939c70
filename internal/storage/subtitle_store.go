package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	osscredentials "github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

// FileRoute is the path prefix under which the API serves local subtitles.
const FileRoute = "/api/file/"

// CleanKey normalizes an object key and rejects keys escaping the root.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("key %q escapes the store root", key)
		}
	}
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	return key, nil
}

func publishError(key string, err error) error {
	return apperrors.WrapWithDetail(apperrors.CodePublishFailed, apperrors.ErrPublish.Message, key, err).
		WithStage(apperrors.StagePublish)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// LocalStore writes subtitles below a directory served by the file route.
type LocalStore struct {
	root          string
	publicBaseUrl string
}

func NewLocalStore(root, publicBaseUrl string) *LocalStore {
	return &LocalStore{root: root, publicBaseUrl: publicBaseUrl}
}

func (s *LocalStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", publishError(key, err)
	}
	dest := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", publishError(key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", publishError(key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", publishError(key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", publishError(key, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", publishError(key, err)
	}

	log.GetLogger().Info("subtitle stored", zap.String("path", dest), zap.Int64("size", size))
	return joinURL(s.publicBaseUrl, FileRoute+cleaned), nil
}

type S3Options struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyId     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseUrl   string
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store publishes subtitles to an S3 compatible bucket.
type S3Store struct {
	client s3API
	opts   S3Options
}

// NewS3Store falls back to the default AWS credential chain when no static
// key is configured.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyId != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyId, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return &S3Store{client: client, opts: opts}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", publishError(key, err)
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(cleaned),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", publishError(key, err)
	}
	return s.objectURL(cleaned), nil
}

func (s *S3Store) objectURL(key string) string {
	if s.opts.PublicBaseUrl != "" {
		return joinURL(s.opts.PublicBaseUrl, key)
	}
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.opts.Endpoint != "" {
		return joinURL(s.opts.Endpoint, s.opts.Bucket+"/"+escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, s.opts.Region, escaped)
}

type OSSOptions struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyId     string
	AccessKeySecret string
	PublicBaseUrl   string
}

type ossAPI interface {
	PutObject(ctx context.Context, request *oss.PutObjectRequest, optFns ...func(*oss.Options)) (*oss.PutObjectResult, error)
}

// OSSStore publishes subtitles to an Alibaba Cloud OSS bucket.
type OSSStore struct {
	client ossAPI
	opts   OSSOptions
}

func NewOSSStore(opts OSSOptions) *OSSStore {
	cfg := oss.LoadDefaultConfig().
		WithRegion(opts.Region).
		WithCredentialsProvider(osscredentials.NewStaticCredentialsProvider(opts.AccessKeyId, opts.AccessKeySecret))
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint)
	}
	return &OSSStore{client: oss.NewClient(cfg), opts: opts}
}

func (s *OSSStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", publishError(key, err)
	}
	req := &oss.PutObjectRequest{
		Bucket: oss.Ptr(s.opts.Bucket),
		Key:    oss.Ptr(cleaned),
		Body:   body,
	}
	if contentType != "" {
		req.ContentType = oss.Ptr(contentType)
	}
	if size >= 0 {
		req.ContentLength = oss.Ptr(size)
	}
	if _, err := s.client.PutObject(ctx, req); err != nil {
		return "", publishError(key, err)
	}
	if s.opts.PublicBaseUrl != "" {
		return joinURL(s.opts.PublicBaseUrl, cleaned), nil
	}
	return fmt.Sprintf("https://%s.oss-%s.aliyuncs.com/%s", s.opts.Bucket, s.opts.Region,
		(&url.URL{Path: cleaned}).EscapedPath()), nil
}
