// Package media holds image derivative helpers.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// GenerateThumbnail writes a JPEG thumbnail of the image into thumbnailDir,
// named after the image's filename stem, and returns the saved path. RAW
// formats cannot be decoded and return an error.
func GenerateThumbnail(imagePath, thumbnailDir string, maxSize int) (string, error) {
	if err := os.MkdirAll(thumbnailDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create thumbnail directory %s: %w", thumbnailDir, err)
	}

	img, err := imaging.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to open image %s: %w", imagePath, err)
	}

	thumb := imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)

	savePath := filepath.Join(thumbnailDir, ThumbnailName(imagePath))
	if err := imaging.Save(thumb, savePath, imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("failed to save thumbnail to %s: %w", savePath, err)
	}
	return savePath, nil
}

// ThumbnailName returns the thumbnail filename for an image: the image's
// stem with a .jpg extension.
func ThumbnailName(imagePath string) string {
	base := filepath.Base(imagePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".jpg"
}

// ThumbnailExists reports whether a current thumbnail is already present.
// A thumbnail older than the image counts as missing.
func ThumbnailExists(imagePath, thumbnailDir string) bool {
	thumbInfo, err := os.Stat(filepath.Join(thumbnailDir, ThumbnailName(imagePath)))
	if err != nil {
		return false
	}
	imgInfo, err := os.Stat(imagePath)
	if err != nil {
		return false
	}
	return !thumbInfo.ModTime().Before(imgInfo.ModTime())
}
