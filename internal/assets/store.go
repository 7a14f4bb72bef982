// Package assets keeps dish photos on the local filesystem.
package assets

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// MaxImageBytes is the largest photo accepted.
const MaxImageBytes = 5 << 20

var (
	ErrTooLarge        = errors.New("image exceeds 5 MB")
	ErrUnsupportedType = errors.New("image must be PNG, JPEG or WEBP")
	ErrEmpty           = errors.New("image is empty")
	ErrNotFound        = errors.New("image not found")
	ErrInvalidKey      = errors.New("invalid image key")
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

var keyPattern = regexp.MustCompile(`^[0-9a-f-]{36}\.(png|jpg|webp)$`)

// Store writes images under a single directory with generated keys.
type Store struct {
	dir string
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Validate checks size and type and returns the content type sniffed from
// the bytes.
func Validate(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxImageBytes {
		return "", ErrTooLarge
	}
	detected := http.DetectContentType(data)
	if _, ok := extensions[detected]; !ok {
		return "", ErrUnsupportedType
	}
	return detected, nil
}

// Put validates and stores data, returning its key and content type.
func (s *Store) Put(data []byte) (key, contentType string, err error) {
	contentType, err = Validate(data)
	if err != nil {
		return "", "", err
	}
	key = uuid.NewString() + extensions[contentType]

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", "", fmt.Errorf("writing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", fmt.Errorf("closing image: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, key)); err != nil {
		return "", "", fmt.Errorf("storing image: %w", err)
	}
	return key, contentType, nil
}

// Get reads the image stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	if !keyPattern.MatchString(key) {
		return nil, ErrInvalidKey
	}
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// Delete removes the image under key. Missing images are not an error.
func (s *Store) Delete(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting image: %w", err)
	}
	return nil
}
