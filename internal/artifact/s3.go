package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3：S3 兼容对象存储（AWS S3 或 MinIO），单桶，键可带统一前缀
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config：显式构建参数；生产环境主要通过环境变量提供
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // 可选，自定义端点（如 MinIO）
	AccessKeyID     string // 可选，缺省走默认凭证链
	SecretAccessKey string
	PathStyle       bool
	HTTPClient      *http.Client
}

// 环境变量：
//   BLOB_DRIVER=s3
//   BLOB_S3_BUCKET=<bucket>（必填）
//   BLOB_S3_REGION=<region>（默认 us-east-1）
//   BLOB_S3_PREFIX=<prefix>（可选）
//   BLOB_S3_ENDPOINT=<url>（可选，MinIO）
//   BLOB_S3_PATH_STYLE=true|false（默认 false）
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY（可选）

// NewS3：按配置创建对象存储
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// OpenS3FromEnv：从环境变量构建对象存储
func OpenS3FromEnv(ctx context.Context) (*S3, error) {
	bucket := os.Getenv("BLOB_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("BLOB_S3_BUCKET required for s3 driver")
	}
	return NewS3(ctx, S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("BLOB_S3_REGION"),
		Prefix:    os.Getenv("BLOB_S3_PREFIX"),
		Endpoint:  os.Getenv("BLOB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("BLOB_S3_PATH_STYLE"), "true"),
	})
}

func (s *S3) Driver() string { return "s3" }

func (s *S3) objectKey(key string) (string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return s.prefix + k, nil
}

// Put：单次 PutObject，对象存储本身保证读者只见到完整对象
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	k, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &k,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil {
		return nil, mapS3Error(err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) Stat(ctx context.Context, key string) (Info, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil {
		return Info{}, mapS3Error(err)
	}
	return Info{Key: key, Size: aws.ToInt64(out.ContentLength), LastModified: aws.ToTime(out.LastModified)}, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	k, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &k})
	if err != nil && !errors.Is(mapS3Error(err), ErrNotFound) {
		return err
	}
	return nil
}

// mapS3Error：404 统一映射为 ErrNotFound
func mapS3Error(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
