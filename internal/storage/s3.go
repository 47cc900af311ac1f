package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"constructionpro/internal/common"
)

// ErrUnsupportedType is returned for files the document library does not accept.
var ErrUnsupportedType = fmt.Errorf("%w: unsupported file type", common.ErrValidation)

// allowedTypes maps accepted extensions to the content type stored with the object.
var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".heic": "image/heic",
	".dwg":  "image/vnd.dwg",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
}

// FileStore is the document file backend used by the API.
type FileStore interface {
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)
	Download(ctx context.Context, key string) (*DownloadResult, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Encrypted reports whether stored bytes are sealed client-side, in which
	// case presigned URLs are useless and downloads go through Download.
	Encrypted() bool
}

type UploadInput struct {
	Body       io.Reader
	Filename   string
	UploaderID int
}

type UploadResult struct {
	Key        string    `json:"storage_key"`
	Bucket     string    `json:"-"`
	FileHash   string    `json:"hash"` // SHA-256 of the original bytes
	FileSize   int64     `json:"file_size"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type DownloadResult struct {
	Data     []byte
	FileHash string
	FileSize int64
	MimeType string
}

// S3Config selects the bucket and optional client-side encryption key.
type S3Config struct {
	Bucket        string
	Region        string
	EndpointURL   string // MinIO or other S3-compatible endpoint
	EncryptionKey string // 64 hex characters; empty disables client-side encryption
}

type S3Service struct {
	client        *s3.Client
	uploader      *manager.Uploader
	bucket        string
	encryptionKey []byte // 32-byte AES-256 key
}

// NewS3Service creates a new S3 service instance with MinIO support
func NewS3Service(ctx context.Context, cfg S3Config) (*S3Service, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	key, err := parseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true // MinIO requires path-style addressing
		}
	})

	return &S3Service{
		client:        client,
		uploader:      manager.NewUploader(client),
		bucket:        cfg.Bucket,
		encryptionKey: key,
	}, nil
}

func parseEncryptionKey(keyHex string) ([]byte, error) {
	if keyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key format: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex characters)")
	}
	return key, nil
}

func (s *S3Service) Encrypted() bool {
	return len(s.encryptionKey) > 0
}

// DetectType validates the filename and returns the content type to store.
func DetectType(filename string, head []byte) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	mime, ok := allowedTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	if ext == ".pdf" && len(head) > 0 && !bytes.HasPrefix(head, []byte("%PDF")) {
		return "", fmt.Errorf("%w: %s is not a PDF", ErrUnsupportedType, filename)
	}
	return mime, nil
}

// ObjectKey builds documents/{uploader}/{uuid}/{filename}.
func ObjectKey(uploaderID int, filename string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(path.Base(filename))
	return keyPrefix(uploaderID) + uuid.NewString() + "/" + name
}

// OwnedBy reports whether key has the layout ObjectKey produces for
// uploaderID.
func OwnedBy(key string, uploaderID int) bool {
	rest, ok := strings.CutPrefix(key, keyPrefix(uploaderID))
	if !ok {
		return false
	}
	id, name, ok := strings.Cut(rest, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return false
	}
	return uuid.Validate(id) == nil
}

func keyPrefix(uploaderID int) string {
	return fmt.Sprintf("documents/%d/", uploaderID)
}

// Upload stores a document file, encrypting it when a key is configured.
func (s *S3Service) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", common.ErrValidation)
	}

	mime, err := DetectType(in.Filename, data[:min(len(data), 512)])
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])

	body := data
	if s.Encrypted() {
		if body, err = s.encryptData(data); err != nil {
			return nil, fmt.Errorf("failed to encrypt file: %w", err)
		}
	}

	key := ObjectKey(in.UploaderID, in.Filename)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(mime),
		Metadata: map[string]string{
			"original-filename": in.Filename,
			"user-id":           fmt.Sprintf("%d", in.UploaderID),
			"original-hash":     fileHash,
			"encrypted":         fmt.Sprintf("%t", s.Encrypted()),
		},
		ServerSideEncryption: types.ServerSideEncryptionAes256, // Additional S3-level encryption
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &UploadResult{
		Key:        key,
		Bucket:     s.bucket,
		FileHash:   fileHash,
		FileSize:   int64(len(data)),
		MimeType:   mime,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Download fetches and, if needed, decrypts a file. Files uploaded with a
// recorded hash are checked against it.
func (s *S3Service) Download(ctx context.Context, key string) (*DownloadResult, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	if s.Encrypted() {
		if data, err = s.decryptData(data); err != nil {
			return nil, fmt.Errorf("failed to decrypt file: %w", err)
		}
	}

	if want := out.Metadata["original-hash"]; want != "" {
		if err := ValidateFileIntegrity(data, want); err != nil {
			return nil, err
		}
	}

	hash := sha256.Sum256(data)
	mime, ok := allowedTypes[strings.ToLower(path.Ext(key))]
	if !ok {
		mime = http.DetectContentType(data)
	}

	return &DownloadResult{
		Data:     data,
		FileHash: hex.EncodeToString(hash[:]),
		FileSize: int64(len(data)),
		MimeType: mime,
	}, nil
}

// PresignGet generates a presigned URL for temporary access
func (s *S3Service) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return request.URL, nil
}

// Delete deletes a file from S3
func (s *S3Service) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

// Exists checks if a file exists in S3
func (s *S3Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// encryptData encrypts data using AES-256-GCM
func (s *S3Service) encryptData(data []byte) ([]byte, error) {
	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// decryptData decrypts data using AES-256-GCM
func (s *S3Service) decryptData(encryptedData []byte) ([]byte, error) {
	gcm, err := newGCM(s.encryptionKey)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ErrIntegrity is returned when downloaded bytes do not match the hash
// recorded at upload.
var ErrIntegrity = errors.New("file integrity check failed")

// ValidateFileIntegrity compares data with the SHA-256 recorded at upload.
func ValidateFileIntegrity(data []byte, expectedHash string) error {
	hash := sha256.Sum256(data)
	actualHash := hex.EncodeToString(hash[:])

	if actualHash != expectedHash {
		return fmt.Errorf("%w: expected %s, got %s", ErrIntegrity, expectedHash, actualHash)
	}
	return nil
}
