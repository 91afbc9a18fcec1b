package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"lukechampine.com/blake3"

	"github.com/Atlantis-Software/n3/config"
	"github.com/Atlantis-Software/n3/logger"
)

// S3Storage stores message bodies in S3-compatible object storage,
// content-addressed by BLAKE3 hash. When encryption is enabled, bodies
// are encrypted client-side with AES-256-GCM before upload.
type S3Storage struct {
	client        *minio.Client
	bucket        string
	encrypt       bool
	encryptionKey []byte
}

// NewS3Storage initializes the object store client from configuration.
func NewS3Storage(cfg *config.S3Config) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.DisableTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}

	if cfg.Debug {
		client.TraceOn(os.Stdout)
	}

	s := &S3Storage{client: client, bucket: cfg.Bucket}

	if cfg.Encrypt {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode encryption key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex characters)")
		}
		s.encrypt = true
		s.encryptionKey = key
		logger.Info("STORAGE: client-side encryption enabled")
	}

	return s, nil
}

// ContentHash returns the hex BLAKE3 hash used as the object key for body.
func ContentHash(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// PutContent uploads a message body keyed by its content hash and returns
// the hash. Identical bodies resolve to the same object, so uploads of
// already-present content are skipped.
func (s *S3Storage) PutContent(ctx context.Context, body []byte) (string, error) {
	hash := ContentHash(body)

	exists, err := s.exists(ctx, hash)
	if err == nil && exists {
		return hash, nil
	}

	data := body
	if s.encrypt {
		data, err = s.encryptData(body)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt body: %w", err)
		}
	}

	_, err = s.client.PutObject(ctx, s.bucket, hash,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{SendContentMd5: true})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", hash, err)
	}
	return hash, nil
}

// GetContent downloads and, if needed, decrypts the body for a hash.
func (s *S3Storage) GetContent(ctx context.Context, hash string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, hash, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", hash, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", hash, err)
	}

	if s.encrypt {
		data, err = s.decryptData(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt object %s: %w", hash, err)
		}
	}
	return data, nil
}

// Delete removes an object by hash.
func (s *S3Storage) Delete(ctx context.Context, hash string) error {
	return s.client.RemoveObject(ctx, s.bucket, hash, minio.RemoveObjectOptions{})
}

func (s *S3Storage) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) && minioErr.StatusCode == 404 {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat object %s: %w", key, err)
}

// encryptData encrypts data using AES-256-GCM, nonce prepended.
func (s *S3Storage) encryptData(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptData reverses encryptData.
func (s *S3Storage) decryptData(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
