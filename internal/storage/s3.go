// Package storage puts product images on S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

// Options configures the S3 client and public URLs.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string // e.g. http://localhost:4566 for LocalStack or a MinIO host
	PublicBaseURL   string // CDN origin; overrides the bucket URL in returned links
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PresignExpiry   time.Duration
}

// LoadAWSConfig builds an aws.Config from opts. Static credentials are used
// when both keys are set; otherwise the default provider chain applies.
func LoadAWSConfig(ctx context.Context, opts Options) (aws.Config, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	cfgOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// NewS3Client creates an S3 client honouring a custom endpoint.
func NewS3Client(cfg aws.Config, opts Options) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
}

// putter is the part of *manager.Uploader the uploader needs.
type putter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Uploader implements core.AssetUploader on S3.
type Uploader struct {
	put    putter
	signer *Signer
	bucket string
	links  linkBuilder
}

// NewUploader creates an Uploader. Every upload must carry a credential
// issued by signer.
func NewUploader(client *s3.Client, signer *Signer, opts Options) *Uploader {
	return &Uploader{
		put:    manager.NewUploader(client),
		signer: signer,
		bucket: opts.Bucket,
		links:  newLinkBuilder(opts),
	}
}

// Upload verifies cred, stores the asset under cred.Folder and returns its
// public URL.
func (u *Uploader) Upload(ctx context.Context, asset core.Asset, cred core.UploadCredential) (string, error) {
	if err := u.signer.Verify(cred); err != nil {
		return "", err
	}
	if asset.Name == "" || len(asset.Data) == 0 {
		return "", errors.New("asset name and data are required")
	}

	key := objectKey(cred.Folder, asset.Name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(asset.Data),
	}
	if asset.ContentType != "" {
		input.ContentType = aws.String(asset.ContentType)
	}
	if _, err := u.put.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return u.links.url(key), nil
}

// presignAPI is the part of *s3.PresignClient the presigner needs.
type presignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// PresignedUpload is a direct-to-bucket PUT the browser can perform.
type PresignedUpload struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Key       string            `json:"key"`
	PublicURL string            `json:"publicUrl"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Presigner issues presigned PUT URLs for single images.
type Presigner struct {
	client presignAPI
	bucket string
	expiry time.Duration
	links  linkBuilder
	now    func() time.Time
}

// NewPresigner creates a Presigner. A zero PresignExpiry means 15 minutes.
func NewPresigner(client *s3.Client, opts Options) *Presigner {
	expiry := opts.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Presigner{
		client: s3.NewPresignClient(client),
		bucket: opts.Bucket,
		expiry: expiry,
		links:  newLinkBuilder(opts),
		now:    time.Now,
	}
}

// PresignPut returns a presigned PUT for folder/name.
func (p *Presigner) PresignPut(ctx context.Context, folder, name, contentType string) (*PresignedUpload, error) {
	key := objectKey(folder, name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := p.client.PresignPutObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = p.expiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign put object: %w", err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for k, v := range req.SignedHeader {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return &PresignedUpload{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		Key:       key,
		PublicURL: p.links.url(key),
		ExpiresAt: p.now().Add(p.expiry),
	}, nil
}

// objectKey joins folder and the base name of file.
func objectKey(folder, file string) string {
	return strings.TrimPrefix(path.Join(folder, path.Base(file)), "/")
}

// linkBuilder turns object keys into stable public URLs.
type linkBuilder struct {
	base string
}

func newLinkBuilder(opts Options) linkBuilder {
	switch {
	case opts.PublicBaseURL != "":
		return linkBuilder{base: strings.TrimRight(opts.PublicBaseURL, "/")}
	case opts.Endpoint != "":
		return linkBuilder{base: strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket}
	default:
		region := opts.Region
		if region == "" {
			region = "us-east-1"
		}
		return linkBuilder{base: fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, region)}
	}
}

func (b linkBuilder) url(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return b.base + "/" + strings.Join(segments, "/")
}
