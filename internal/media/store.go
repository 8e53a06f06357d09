// Package media stores chat attachments, either in S3 or inline as data
// URLs when no bucket is configured.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"

	_ "image/gif"
	_ "image/png"
)

// Config holds the optional S3 settings for attachment storage.
type Config struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
	PathStyle bool
}

// Stored is the result of persisting one attachment.
type Stored struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	MimeType     string `json:"mime_type"`
	Size         int    `json:"size"`
}

// Store uploads attachments. With S3 disabled it returns inline data URLs so
// the dashboard still renders attachments, just without offloaded storage.
type Store struct {
	cfg    Config
	client *s3.Client
}

// NewStore builds the attachment store, initializing the S3 client when
// enabled.
func NewStore(cfg Config) (*Store, error) {
	st := &Store{cfg: cfg}
	if !cfg.Enabled {
		log.Info().Msg("S3 attachment storage disabled, using inline delivery")
		return st, nil
	}

	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available - set S3_ACCESS_KEY and S3_SECRET_KEY")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket cannot be empty when S3 is enabled")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	if cfg.Endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: cfg.PathStyle}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}

	// Buckets with dots break virtual-host TLS; force path style for them.
	usePathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	st.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("S3 attachment storage initialized")
	return st, nil
}

// ParseDataURL decodes a data: URL payload from the dashboard into raw bytes
// and its mime type.
func ParseDataURL(raw string) ([]byte, string, error) {
	du, err := dataurl.DecodeString(raw)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL: %w", err)
	}
	return du.Data, du.ContentType(), nil
}

// StoreAttachment persists one attachment for a conversation and, for
// images, a JPEG thumbnail next to it.
func (st *Store) StoreAttachment(ctx context.Context, conversationID, attachmentID string, data []byte, mimeType, fileName string) (*Stored, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if !st.cfg.Enabled {
		return &Stored{
			URL:      dataurl.New(data, mimeType).String(),
			MimeType: mimeType,
			Size:     len(data),
		}, nil
	}

	key := objectKey(conversationID, attachmentID, mimeType, fileName)
	if err := st.upload(ctx, key, data, mimeType); err != nil {
		return nil, err
	}

	stored := &Stored{
		URL:      st.publicURL(key),
		MimeType: mimeType,
		Size:     len(data),
	}

	if strings.HasPrefix(mimeType, "image/") {
		thumb, err := thumbnailJPEG(data)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Thumbnail generation failed, storing original only")
			return stored, nil
		}
		thumbKey := key + ".thumb.jpg"
		if err := st.upload(ctx, thumbKey, thumb, "image/jpeg"); err != nil {
			log.Warn().Err(err).Str("key", thumbKey).Msg("Thumbnail upload failed")
			return stored, nil
		}
		stored.ThumbnailURL = st.publicURL(thumbKey)
	}

	return stored, nil
}

func (st *Store) upload(ctx context.Context, key string, data []byte, mimeType string) error {
	input := &s3.PutObjectInput{
		Bucket:       aws.String(st.cfg.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(mimeType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := st.client.PutObject(ctx, input); err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Str("bucket", st.cfg.Bucket).
			Int("size", len(data)).
			Msg("Failed to upload attachment to S3")
		return fmt.Errorf("uploading to S3: %w", err)
	}

	log.Debug().Str("key", key).Int("size", len(data)).Msg("Attachment uploaded to S3")
	return nil
}

func (st *Store) publicURL(key string) string {
	base := strings.TrimSuffix(st.cfg.PublicURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", st.cfg.Bucket, st.cfg.Region)
	}
	return base + "/" + key
}

func objectKey(conversationID, attachmentID, mimeType, fileName string) string {
	folder := "documents"
	if strings.HasPrefix(mimeType, "image/") {
		folder = "images"
	}

	ext := extensionFor(mimeType, fileName)
	day := time.Now().Format("2006/01/02")
	return fmt.Sprintf("conversations/%s/%s/%s/%s%s", conversationID, day, folder, attachmentID, ext)
}

func extensionFor(mimeType, fileName string) string {
	if i := strings.LastIndex(fileName, "."); i > 0 {
		return fileName[i:]
	}
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "pdf"):
		return ".pdf"
	}
	return ".bin"
}

// thumbnailJPEG decodes an image and renders a bounded JPEG thumbnail.
func thumbnailJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	thumb := resize.Thumbnail(320, 320, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
