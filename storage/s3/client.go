// Package s3 implements the storage contract against Amazon S3 and
// S3-compatible object stores (MinIO, Aliyun OSS and similar).
//
// Object keys are exposed as slash-separated storage paths; "directories"
// are the common prefixes of a delimiter listing.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/stardustai/webdav-viewer/storage"
)

const (
	// Protocol is the canonical protocol name.
	Protocol = "s3"
	// ProtocolOSS is accepted as an alias for S3-compatible stores.
	ProtocolOSS = "oss"

	defaultRegion = "us-east-1"
	// PresignExpiry is the lifetime of URLs returned by DownloadURL.
	PresignExpiry = 15 * time.Minute
)

// Client reads objects from one bucket. It is safe for concurrent use.
type Client struct {
	mu        sync.RWMutex
	api       *awss3.Client
	presign   *awss3.PresignClient
	bucket    string
	protocol  string
	connected bool

	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client handed to the AWS SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// sdkHTTPClient carries the timeout and transport settings of hc over to a
// client the SDK can still customize, for example with AWS_CA_BUNDLE.
func sdkHTTPClient(hc *http.Client) *awshttp.BuildableClient {
	bc := awshttp.NewBuildableClient()
	if hc.Timeout > 0 {
		bc = bc.WithTimeout(hc.Timeout)
	}
	if tr, ok := hc.Transport.(*http.Transport); ok {
		bc = bc.WithTransportOptions(func(t *http.Transport) {
			t.Proxy = tr.Proxy
			if tr.DialContext != nil {
				t.DialContext = tr.DialContext
			}
			if tr.TLSClientConfig != nil {
				t.TLSClientConfig = tr.TLSClientConfig.Clone()
			}
		})
	}
	return bc
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates an unconnected Client.
func New(opts ...Option) *Client {
	c := &Client{protocol: Protocol}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Factory adapts New to storage.Factory. The client reports the protocol
// name it was connected with, so "oss" connections stay "oss".
func Factory(opts ...Option) storage.Factory {
	return func(*storage.ConnectionConfig) (storage.Client, error) {
		return New(opts...), nil
	}
}

func (c *Client) Protocol() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocol
}

func (c *Client) Capabilities() storage.Capabilities {
	maxObject := uint64(5) << 40
	return storage.Capabilities{
		SupportsStreaming:       true,
		SupportsRangeRequests:   true,
		SupportsMultipartUpload: true,
		SupportsMetadata:        true,
		SupportsEncryption:      true,
		SupportsDirectories:     false,
		MaxFileSize:             &maxObject,
		SupportedMethods:        []string{http.MethodGet, http.MethodHead},
	}
}

// settings is the resolved form of a ConnectionConfig.
type settings struct {
	bucket    string
	region    string
	endpoint  string
	pathStyle bool
}

// ValidateConfig requires a bucket, and an access key pair when either half
// is given. The bucket may also come from an s3://bucket URL.
func (c *Client) ValidateConfig(cfg *storage.ConnectionConfig) error {
	_, err := resolve(cfg)
	return err
}

func resolve(cfg *storage.ConnectionConfig) (settings, error) {
	var s settings
	if cfg == nil {
		return s, storage.Errorf(storage.KindInvalidConfig, "connection config is nil")
	}
	if cfg.Protocol != Protocol && cfg.Protocol != ProtocolOSS {
		return s, storage.Errorf(storage.KindProtocolNotSupported, "%s", cfg.Protocol)
	}
	s.bucket = cfg.Bucket
	s.endpoint = cfg.Endpoint
	switch {
	case strings.HasPrefix(cfg.URL, "s3://"), strings.HasPrefix(cfg.URL, "oss://"):
		if s.bucket == "" {
			_, rest, _ := strings.Cut(cfg.URL, "://")
			s.bucket, _, _ = strings.Cut(rest, "/")
		}
	case strings.HasPrefix(cfg.URL, "http://"), strings.HasPrefix(cfg.URL, "https://"):
		if s.endpoint == "" {
			s.endpoint = cfg.URL
		}
	}
	if s.bucket == "" {
		return s, storage.Errorf(storage.KindInvalidConfig, "bucket is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return s, storage.Errorf(storage.KindInvalidConfig, "access key and secret key must be set together")
	}
	s.region = cfg.Region
	if s.region == "" {
		s.region = defaultRegion
	}
	s.pathStyle = s.endpoint != ""
	if v := cfg.Extra("path_style", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s, storage.Errorf(storage.KindInvalidConfig, "path_style: %w", err)
		}
		s.pathStyle = b
	}
	return s, nil
}

// Connect builds the SDK client and probes the bucket with HeadBucket.
func (c *Client) Connect(ctx context.Context, cfg *storage.ConnectionConfig) error {
	s, err := resolve(cfg)
	if err != nil {
		return err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if c.httpClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(sdkHTTPClient(c.httpClient)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return storage.Errorf(storage.KindInvalidConfig, "load aws config: %w", err)
	}

	api := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
		}
		o.UsePathStyle = s.pathStyle
	})
	if _, err := api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return storage.Cancelled(err)
		}
		return storage.Errorf(storage.KindConnectionFailed, "head bucket %s: %w", s.bucket, err)
	}
	c.logger.Debug("s3 connected", slog.String("bucket", s.bucket), slog.String("endpoint", s.endpoint))

	c.mu.Lock()
	c.api = api
	c.presign = awss3.NewPresignClient(api)
	c.bucket = s.bucket
	c.protocol = cfg.Protocol
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.api = nil
	c.presign = nil
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) handle() (*awss3.Client, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil, "", storage.ErrNotConnected
	}
	return c.api, c.bucket, nil
}

// objectKey maps a storage path to an object key.
func objectKey(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// ListDirectory lists one page. The marker is the continuation token of the
// previous page; opts.Prefix narrows the listing server-side. Entries are
// ordered within the page only.
func (c *Client) ListDirectory(ctx context.Context, dir string, opts *storage.ListOptions) (*storage.DirectoryResult, error) {
	api, bucket, err := c.handle()
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &storage.ListOptions{}
	}
	dir = path.Clean("/" + dir)
	prefix := objectKey(dir)
	if prefix != "" {
		prefix += "/"
	}

	in := &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix + opts.Prefix),
	}
	if !opts.Recursive {
		in.Delimiter = aws.String("/")
	}
	if opts.PageSize > 0 {
		in.MaxKeys = aws.Int32(int32(min(opts.PageSize, 1000)))
	}
	if opts.Marker != "" {
		in.ContinuationToken = aws.String(opts.Marker)
	}
	out, err := api.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, classify(err, "list %s", dir)
	}

	files := make([]storage.StorageFile, 0, len(out.CommonPrefixes)+len(out.Contents))
	for _, cp := range out.CommonPrefixes {
		name := "/" + strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
		files = append(files, storage.StorageFile{
			Filename: name,
			Basename: path.Base(name),
			Type:     storage.FileTypeDirectory,
		})
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix || strings.HasSuffix(key, "/") {
			continue
		}
		f := storage.StorageFile{
			Filename: "/" + key,
			Basename: path.Base(key),
			Size:     uint64(aws.ToInt64(obj.Size)),
			Type:     storage.FileTypeFile,
			ETag:     strings.Trim(aws.ToString(obj.ETag), `"`),
		}
		if obj.LastModified != nil {
			f.Lastmod = storage.FormatLastmod(*obj.LastModified)
		}
		files = append(files, f)
	}
	storage.SortFiles(files, opts.SortBy, opts.SortOrder)

	res := &storage.DirectoryResult{
		Files:   files,
		Path:    dir,
		HasMore: aws.ToBool(out.IsTruncated),
	}
	if res.HasMore {
		res.NextMarker = aws.ToString(out.NextContinuationToken)
	}
	return res, nil
}

// Request supports GET and HEAD with req.URL naming an object.
func (c *Client) Request(ctx context.Context, req *storage.Request) (*storage.Response, error) {
	switch req.Method {
	case http.MethodGet:
		data, err := c.ReadFullFile(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		return &storage.Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"content-length": strconv.Itoa(len(data))},
			Body:    string(data),
		}, nil
	case http.MethodHead:
		api, bucket, err := c.handle()
		if err != nil {
			return nil, err
		}
		out, err := api.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(objectKey(req.URL))})
		if err != nil {
			return nil, classify(err, "head %s", req.URL)
		}
		headers := map[string]string{"content-length": strconv.FormatInt(aws.ToInt64(out.ContentLength), 10)}
		if out.ContentType != nil {
			headers["content-type"] = aws.ToString(out.ContentType)
		}
		if out.ETag != nil {
			headers["etag"] = aws.ToString(out.ETag)
		}
		return &storage.Response{Status: http.StatusOK, Headers: headers}, nil
	default:
		return nil, storage.Errorf(storage.KindRequestFailed, "method %s not supported", req.Method)
	}
}

func (c *Client) RequestBinary(ctx context.Context, req *storage.Request) ([]byte, error) {
	if req.Method != http.MethodGet {
		return nil, storage.Errorf(storage.KindRequestFailed, "method %s not supported", req.Method)
	}
	return c.ReadFullFile(ctx, req.URL)
}

func (c *Client) FileSize(ctx context.Context, p string) (uint64, error) {
	api, bucket, err := c.handle()
	if err != nil {
		return 0, err
	}
	out, err := api.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(objectKey(p))})
	if err != nil {
		return 0, classify(err, "head %s", p)
	}
	return uint64(aws.ToInt64(out.ContentLength)), nil
}

func (c *Client) ReadFileRange(ctx context.Context, p string, start, length uint64) ([]byte, error) {
	return c.ReadFileRangeWithProgress(ctx, p, start, length, nil)
}

func (c *Client) ReadFullFile(ctx context.Context, p string) ([]byte, error) {
	return c.ReadFullFileWithProgress(ctx, p, nil)
}

// ReadFileRangeWithProgress issues a ranged GetObject. A range starting past
// the end of the object yields an empty slice.
func (c *Client) ReadFileRangeWithProgress(ctx context.Context, p string, start, length uint64, progress storage.ProgressFunc) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	c.logger.Debug("s3 read", slog.String("path", p), slog.Uint64("offset", start), slog.Uint64("length", length))
	return c.get(ctx, p, fmt.Sprintf("bytes=%d-%d", start, start+length-1), length, progress)
}

func (c *Client) ReadFullFileWithProgress(ctx context.Context, p string, progress storage.ProgressFunc) ([]byte, error) {
	c.logger.Debug("s3 read", slog.String("path", p))
	return c.get(ctx, p, "", 0, progress)
}

func (c *Client) get(ctx context.Context, p, byteRange string, want uint64, progress storage.ProgressFunc) ([]byte, error) {
	api, bucket, err := c.handle()
	if err != nil {
		return nil, err
	}
	in := &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(objectKey(p))}
	if byteRange != "" {
		in.Range = aws.String(byteRange)
	}
	out, err := api.GetObject(ctx, in)
	if err != nil {
		var ae smithy.APIError
		if byteRange != "" && errors.As(err, &ae) && ae.ErrorCode() == "InvalidRange" {
			return []byte{}, nil
		}
		return nil, classify(err, "get %s", p)
	}
	defer out.Body.Close()

	total := want
	if n := aws.ToInt64(out.ContentLength); n > 0 {
		total = uint64(n)
	}
	data, err := storage.ReadAllWithProgress(ctx, out.Body, total, progress)
	if err != nil {
		return nil, storage.NetworkError(err)
	}
	return data, nil
}

// DownloadURL returns a presigned GET URL valid for PresignExpiry.
func (c *Client) DownloadURL(ctx context.Context, p string) (string, error) {
	c.mu.RLock()
	presign, bucket, connected := c.presign, c.bucket, c.connected
	c.mu.RUnlock()
	if !connected {
		return "", storage.ErrNotConnected
	}
	req, err := presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey(p)),
	}, awss3.WithPresignExpires(PresignExpiry))
	if err != nil {
		return "", classify(err, "presign %s", p)
	}
	return req.URL, nil
}

// classify maps SDK errors onto storage kinds. Missing objects are IO
// errors; other API errors are request failures; the rest are network
// errors or cancellation.
func classify(err error, format string, args ...any) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return storage.Cancelled(err)
	}
	msg := fmt.Sprintf(format, args...)
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return storage.Errorf(storage.KindIO, "%s: %w", msg, err)
		default:
			return storage.Errorf(storage.KindRequestFailed, "%s: %w", msg, err)
		}
	}
	return storage.Errorf(storage.KindNetwork, "%s: %w", msg, err)
}
