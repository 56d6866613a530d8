package fsscan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/facette/natsort"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/quickcull/cullingbackend/models"
)

// SidecarExt is the sidecar file extension, stored beside each image.
const SidecarExt = ".xmp"

// partialHashSize bounds how much of a file is hashed; enough to detect
// content changes cheaply on multi-hundred-MB raw files.
const partialHashSize = 64 * 1024

var supportedExtensions = map[string]bool{
	// RAW formats
	".nef": true, ".cr2": true, ".cr3": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".pef": true, ".raf": true, ".3fr": true,

	// standard formats
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tiff": true,
	".tif": true, ".gif": true, ".webp": true,

	// other formats
	".heic": true, ".heif": true, ".avif": true,
}

var rawExtensions = map[string]bool{
	".nef": true, ".cr2": true, ".cr3": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".pef": true, ".raf": true, ".3fr": true,
}

// IsSupported checks if the path has a supported image extension.
func IsSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsRaw checks if the path has a raw-format extension.
func IsRaw(path string) bool {
	return rawExtensions[strings.ToLower(filepath.Ext(path))]
}

// SidecarPath returns the sidecar path for an image: same directory and
// filename stem, with the image extension substituted by ".xmp".
func SidecarPath(imagePath string) string {
	ext := filepath.Ext(imagePath)
	return strings.TrimSuffix(imagePath, ext) + SidecarExt
}

// Scanner resolves the on-disk state of a working folder: supported images
// with size, mtime, format, partial hash, capture time and sidecar presence.
type Scanner struct{}

func NewScanner() *Scanner {
	return &Scanner{}
}

// ScanFolder lists all supported images directly inside folderPath (no
// recursion), naturally sorted by filename.
func (s *Scanner) ScanFolder(folderPath string) ([]models.ImageFileInfo, error) {
	info, err := os.Stat(folderPath)
	if err != nil {
		return nil, fmt.Errorf("folder not found: %s: %w", folderPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", folderPath)
	}

	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read folder %s: %w", folderPath, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !IsSupported(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	natsort.Sort(names)

	results := make([]models.ImageFileInfo, 0, len(names))
	for _, name := range names {
		fi, err := s.StatFile(filepath.Join(folderPath, name))
		if err != nil {
			// file disappeared between listing and stat; skip it
			continue
		}
		results = append(results, *fi)
	}
	return results, nil
}

// StatFile resolves a single image file into an ImageFileInfo.
func (s *Scanner) StatFile(imagePath string) (*models.ImageFileInfo, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", imagePath, err)
	}

	fi := &models.ImageFileInfo{
		FullPath:   imagePath,
		Filename:   filepath.Base(imagePath),
		FileSize:   info.Size(),
		ModifiedAt: info.ModTime(),
		Format:     strings.ToLower(filepath.Ext(imagePath)),
		IsRaw:      IsRaw(imagePath),
		FileHash:   PartialHash(imagePath),
		TakenAt:    captureTime(imagePath),
	}

	sidecarPath := SidecarPath(imagePath)
	if scInfo, err := os.Stat(sidecarPath); err == nil {
		fi.HasSidecar = true
		mod := scInfo.ModTime()
		fi.SidecarModifiedAt = &mod
	}

	return fi, nil
}

// PartialHash fingerprints a file by hashing its first 64KB. Falls back to a
// size+mtime pseudo-hash when the file cannot be read.
func PartialHash(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return fallbackHash(path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, partialHashSize); err != nil && err != io.EOF {
		return fallbackHash(path)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func fallbackHash(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d_%d", info.Size(), info.ModTime().Unix())
}

// captureTime extracts the EXIF capture timestamp. goexif only understands
// TIFF-based containers; other formats simply yield no capture time.
func captureTime(imagePath string) *time.Time {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil
	}
	tm, err := x.DateTime()
	if err != nil {
		return nil
	}
	return &tm
}
