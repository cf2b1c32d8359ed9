package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
)

type URLMode string

const (
	URLModePresigned URLMode = "presigned"
	URLModePublic    URLMode = "public"
)

// metaAnnotations holds defect counts as "name=count;name=count"
const metaAnnotations = "annotations"

// maxImagesPerDevice bounds LatestImages listing
const maxImagesPerDevice = 50

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLMode         URLMode
	PresignedTTL    time.Duration
}

// ImageStorage implements port.ImageStorage. Objects live under
// devices/{id}/images/{name}; re-uploading a name replaces that view,
// so the listing of a device prefix is its current image set.
type ImageStorage struct {
	client       *s3.Client
	presign      *s3.PresignClient
	bucket       string
	endpoint     string
	usePathStyle bool
	urlMode      URLMode
	presignedTTL time.Duration
}

func NewImageStorage(ctx context.Context, cfg Config) (*ImageStorage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.AccessKeyID) == "" || strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return nil, fmt.Errorf("s3 access key id and secret are required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "ru-central1"
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://storage.yandexcloud.net"
	}
	if cfg.URLMode == "" {
		cfg.URLMode = URLModePresigned
	}
	if cfg.URLMode != URLModePresigned && cfg.URLMode != URLModePublic {
		return nil, fmt.Errorf("unsupported s3 url mode: %s", cfg.URLMode)
	}
	if cfg.PresignedTTL <= 0 {
		cfg.PresignedTTL = 15 * time.Minute
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.BaseEndpoint = &cfg.Endpoint
		options.UsePathStyle = cfg.UsePathStyle
	})

	return &ImageStorage{
		client:       client,
		presign:      s3.NewPresignClient(client),
		bucket:       strings.TrimSpace(cfg.Bucket),
		endpoint:     strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		usePathStyle: cfg.UsePathStyle,
		urlMode:      cfg.URLMode,
		presignedTTL: cfg.PresignedTTL,
	}, nil
}

// PutImage uploads an image with its defect annotations as object metadata
func (s *ImageStorage) PutImage(
	ctx context.Context,
	deviceID, name, contentType string,
	body []byte,
	annotations map[string]int,
) (port.ImageRef, error) {
	key := ImageKey(deviceID, name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
		Metadata:    map[string]string{metaAnnotations: EncodeAnnotations(annotations)},
	})
	if err != nil {
		return port.ImageRef{}, fmt.Errorf("put object failed: %w", err)
	}

	objectURL, err := s.objectURL(ctx, key)
	if err != nil {
		return port.ImageRef{}, err
	}

	return port.ImageRef{
		Key:         key,
		URL:         objectURL,
		ContentType: contentType,
		Annotations: annotations,
	}, nil
}

// LatestImages returns the current image set of a device ordered by key
func (s *ImageStorage) LatestImages(ctx context.Context, deviceID string) ([]port.ImageRef, error) {
	prefix := devicePrefix(deviceID)
	maxKeys := int32(maxImagesPerDevice)

	output, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.bucket,
		Prefix:  &prefix,
		MaxKeys: &maxKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("list objects failed: %w", err)
	}

	refs := make([]port.ImageRef, 0, len(output.Contents))
	for _, object := range output.Contents {
		if object.Key == nil || strings.TrimSpace(*object.Key) == "" {
			continue
		}
		key := *object.Key

		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
		if err != nil {
			return nil, fmt.Errorf("head object %s failed: %w", key, err)
		}

		objectURL, err := s.objectURL(ctx, key)
		if err != nil {
			return nil, err
		}

		ref := port.ImageRef{
			Key:         key,
			URL:         objectURL,
			Annotations: DecodeAnnotations(head.Metadata[metaAnnotations]),
		}
		if head.ContentType != nil {
			ref.ContentType = *head.ContentType
		}
		refs = append(refs, ref)
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Key < refs[j].Key
	})
	return refs, nil
}

// ImageKey returns the object key for a device image
func ImageKey(deviceID, name string) string {
	return devicePrefix(deviceID) + name
}

func devicePrefix(deviceID string) string {
	return "devices/" + strings.TrimSpace(deviceID) + "/images/"
}

// EncodeAnnotations serializes defect counts in a stable order
func EncodeAnnotations(annotations map[string]int) string {
	names := make([]string, 0, len(annotations))
	for name := range annotations {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strconv.Itoa(annotations[name]))
	}
	return strings.Join(parts, ";")
}

// DecodeAnnotations parses EncodeAnnotations output, skipping malformed pairs
func DecodeAnnotations(raw string) map[string]int {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	result := make(map[string]int)
	for _, pair := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			continue
		}
		result[name] = n
	}
	return result
}

func (s *ImageStorage) objectURL(ctx context.Context, key string) (string, error) {
	if s.urlMode == URLModePublic {
		return s.publicURL(key), nil
	}

	request, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.presignedTTL))
	if err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}
	return request.URL, nil
}

func (s *ImageStorage) publicURL(key string) string {
	escapedKey := url.PathEscape(key)
	escapedKey = strings.ReplaceAll(escapedKey, "%2F", "/")
	if s.usePathStyle {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escapedKey)
	}
	endpoint := strings.TrimPrefix(s.endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.bucket, endpoint, escapedKey)
}
