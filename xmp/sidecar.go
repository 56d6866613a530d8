// Package xmp reads and writes per-image XMP sidecar files. It owns the
// culling analysis namespace and mirrors the Lightroom-style editorial
// properties (rating, label, pick flag) that external tools maintain.
package xmp

import (
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/quickcull/cullingbackend/fsscan"
	"github.com/quickcull/cullingbackend/models"
)

const (
	nsRDF       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsXMP       = "http://ns.adobe.com/xap/1.0/"
	nsXMPDM     = "http://ns.adobe.com/xmp/1.0/DynamicMedia/"
	nsLightroom = "http://ns.adobe.com/lightroom/1.0/"
	nsCulling   = "http://ns.quickcull.app/culling/1.0/"

	// flattened extended-data keys carry this prefix inside the culling namespace
	extKeyPrefix = "Ext_"

	// labels mirrored alongside the pick flag so external viewers show a
	// consistent signal even when they only understand one property
	LabelSelect = "Select"
	LabelReject = "Reject"

	// rating sentinel mirrored for pick=false; never a star rating
	ratingReject = -1
	ratingSelect = 1
)

// wellKnownPrefixes maps foreign namespaces to their conventional prefixes so
// preserved external properties keep a recognizable shape after a rewrite.
var wellKnownPrefixes = map[string]string{
	"http://ns.adobe.com/camera-raw-settings/1.0/": "crs",
	"http://ns.adobe.com/photoshop/1.0/":           "photoshop",
	"http://ns.adobe.com/xap/1.0/mm/":              "xmpMM",
	"http://ns.adobe.com/exif/1.0/":                "exif",
	"http://ns.adobe.com/exif/1.0/aux/":            "aux",
	"http://ns.adobe.com/tiff/1.0/":                "tiff",
	"http://purl.org/dc/elements/1.1/":             "dc",
}

// Service is the sidecar adapter. It is stateless and safe for concurrent use.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// SidecarPath returns the sidecar path for an image.
func (s *Service) SidecarPath(imagePath string) string {
	return fsscan.SidecarPath(imagePath)
}

// Exists reports whether the image has a sidecar on disk.
func (s *Service) Exists(imagePath string) bool {
	_, err := os.Stat(fsscan.SidecarPath(imagePath))
	return err == nil
}

// ModifiedAt returns the sidecar's mtime, or nil when no sidecar exists.
func (s *Service) ModifiedAt(imagePath string) (*time.Time, error) {
	info, err := os.Stat(fsscan.SidecarPath(imagePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat sidecar for %s: %w", imagePath, err)
	}
	mod := info.ModTime()
	return &mod, nil
}

// ReadAll parses the full sidecar: editorial fields plus analysis data.
// A missing sidecar yields (nil, nil). Malformed packets are tolerated and
// reported as "no data" after a warning; use ReadAllStrict to surface them.
func (s *Service) ReadAll(imagePath string) (*models.SidecarData, error) {
	data, err := s.readSidecar(imagePath)
	if err != nil {
		log.Printf("Warning: failed to read sidecar for %s: %v", imagePath, err)
		if mod, statErr := s.ModifiedAt(imagePath); statErr == nil && mod != nil {
			return &models.SidecarData{LastModified: *mod}, nil
		}
		return nil, nil
	}
	return data, nil
}

// ReadAllStrict is ReadAll without the tolerant fallback: parse failures are
// returned to the caller. Used by consistency validation.
func (s *Service) ReadAllStrict(imagePath string) (*models.SidecarData, error) {
	return s.readSidecar(imagePath)
}

// ReadAnalysis parses only this system's analysis namespace. A missing
// sidecar or one that was never analyzed yields (nil, nil).
func (s *Service) ReadAnalysis(imagePath string) (*models.AnalysisResult, error) {
	data, err := s.ReadAll(imagePath)
	if err != nil || data == nil {
		return nil, err
	}
	return data.Analysis, nil
}

func (s *Service) readSidecar(imagePath string) (*models.SidecarData, error) {
	sidecarPath := fsscan.SidecarPath(imagePath)
	info, err := os.Stat(sidecarPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat sidecar %s: %w", sidecarPath, err)
	}

	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar %s: %w", sidecarPath, err)
	}

	pkt, err := parsePacket(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", sidecarPath, err)
	}

	data := &models.SidecarData{
		LastModified: info.ModTime(),
		Rating:       pkt.starRating(),
		Pick:         pkt.resolvePick(),
		Label:        pkt.label,
	}
	data.Analysis = pkt.analysisResult(imagePath)
	return data, nil
}

// WriteAnalysis merges an analysis result into the sidecar's culling
// namespace, preserving every externally-owned property, and rewrites the
// file in one shot. A minimal sidecar is created when none exists.
func (s *Service) WriteAnalysis(imagePath string, result *models.AnalysisResult) error {
	sidecarPath := fsscan.SidecarPath(imagePath)

	pkt, err := loadOrCreatePacket(sidecarPath)
	if err != nil {
		return fmt.Errorf("failed to load sidecar for %s: %w", imagePath, err)
	}

	at := result.AnalyzedAt
	pkt.analyzedAt = &at
	pkt.modelVersion = optString(result.ModelVersion)
	pkt.analysisVersion = optString(result.AnalysisVersion)
	pkt.sharpnessOverall = optFloat(result.SharpnessOverall)
	pkt.sharpnessSubject = optFloat(result.SharpnessSubject)
	pkt.subjectCount = optInt(result.SubjectCount)
	pkt.subjectSharpnessPct = optFloat(result.SubjectSharpnessPercentage)
	pkt.eyesOpen = optBool(result.EyesOpen)
	pkt.eyeConfidence = optFloat(result.EyeConfidence)
	pkt.predictedRating = optInt(result.PredictedRating)
	pkt.predictionConfidence = optFloat(result.PredictionConfidence)
	pkt.groupID = result.GroupID
	pkt.subjectTypes = result.SubjectTypes
	pkt.extended = result.ExtendedData
	pkt.stampMetadataDate()

	return writePacket(sidecarPath, pkt)
}

// WritePickStatus writes the tri-state pick flag and mirrors it into the
// standard rating/label properties: pick selects, reject demotes, nil clears
// all three.
func (s *Service) WritePickStatus(imagePath string, pick *bool) error {
	sidecarPath := fsscan.SidecarPath(imagePath)

	pkt, err := loadOrCreatePacket(sidecarPath)
	if err != nil {
		return fmt.Errorf("failed to load sidecar for %s: %w", imagePath, err)
	}

	switch {
	case pick == nil:
		pkt.good = nil
		pkt.rating = nil
		pkt.label = nil
	case *pick:
		pkt.good = pick
		pkt.rating = optInt(ratingSelect)
		pkt.label = optString(LabelSelect)
	default:
		pkt.good = pick
		pkt.rating = optInt(ratingReject)
		pkt.label = optString(LabelReject)
	}
	// keep the legacy flag in lockstep so older tools never see a stale value
	pkt.lrPick = pick
	pkt.stampMetadataDate()

	return writePacket(sidecarPath, pkt)
}

// packet is the merged in-memory view of one sidecar. Fields this system
// does not own are carried verbatim in foreignAttrs/foreignInner so a full
// rewrite never loses them.
type packet struct {
	rating       *int // raw value; negative/zero values are pick encodings
	label        *string
	metadataDate *string
	good         *bool // xmpDM:good
	lrPick       *bool // legacy lr:pick

	analyzedAt           *time.Time
	modelVersion         *string
	analysisVersion      *string
	sharpnessOverall     *float64
	sharpnessSubject     *float64
	subjectCount         *int
	subjectSharpnessPct  *float64
	eyesOpen             *bool
	eyeConfidence        *float64
	predictedRating      *int
	predictionConfidence *float64
	groupID              int
	subjectTypes         []string
	extended             map[string]string

	foreignAttrs []xml.Attr
	foreignInner string
	nsDecls      map[string]string // prefix -> uri, from the original packet
}

// starRating honors the rating only in the 1-5 editorial range; other values
// are pick/reject sentinels and must not leak into the rating field.
func (p *packet) starRating() *int {
	if p.rating != nil && *p.rating >= 1 && *p.rating <= 5 {
		return p.rating
	}
	return nil
}

// resolvePick applies the resolution order across legacy encodings:
// primary boolean flag, tool-specific pick flag, text label, rating sentinel.
func (p *packet) resolvePick() *bool {
	if p.good != nil {
		return p.good
	}
	if p.lrPick != nil {
		return p.lrPick
	}
	if p.label != nil {
		switch strings.ToLower(*p.label) {
		case "select", "pick", "picked":
			return optBool(true)
		case "reject", "rejected":
			return optBool(false)
		}
	}
	if p.rating != nil && *p.rating < 0 {
		return optBool(false)
	}
	return nil
}

// analysisResult rebuilds the AnalysisResult from the culling namespace.
// Absence of the analysis timestamp means the image was never analyzed.
func (p *packet) analysisResult(imagePath string) *models.AnalysisResult {
	if p.analyzedAt == nil {
		return nil
	}
	result := &models.AnalysisResult{
		Filename:     baseName(imagePath),
		FilePath:     imagePath,
		AnalyzedAt:   *p.analyzedAt,
		GroupID:      p.groupID,
		SubjectTypes: p.subjectTypes,
		ExtendedData: p.extended,
	}
	if p.modelVersion != nil {
		result.ModelVersion = *p.modelVersion
	}
	if p.analysisVersion != nil {
		result.AnalysisVersion = *p.analysisVersion
	}
	if p.sharpnessOverall != nil {
		result.SharpnessOverall = *p.sharpnessOverall
	}
	if p.sharpnessSubject != nil {
		result.SharpnessSubject = *p.sharpnessSubject
	}
	if p.subjectCount != nil {
		result.SubjectCount = *p.subjectCount
	}
	if p.subjectSharpnessPct != nil {
		result.SubjectSharpnessPercentage = *p.subjectSharpnessPct
	}
	if p.eyesOpen != nil {
		result.EyesOpen = *p.eyesOpen
	}
	if p.eyeConfidence != nil {
		result.EyeConfidence = *p.eyeConfidence
	}
	if p.predictedRating != nil {
		result.PredictedRating = *p.predictedRating
	}
	if p.predictionConfidence != nil {
		result.PredictionConfidence = *p.predictionConfidence
	}
	return result
}

func (p *packet) stampMetadataDate() {
	p.metadataDate = optString(time.Now().Format(time.RFC3339))
}

func loadOrCreatePacket(sidecarPath string) (*packet, error) {
	raw, err := os.ReadFile(sidecarPath)
	if os.IsNotExist(err) {
		return &packet{groupID: models.GroupUngrouped}, nil
	}
	if err != nil {
		return nil, err
	}
	return parsePacket(raw)
}

func optString(v string) *string  { return &v }
func optInt(v int) *int           { return &v }
func optFloat(v float64) *float64 { return &v }
func optBool(v bool) *bool        { return &v }

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

var (
	bomPattern          = regexp.MustCompile("[\uFEFF\uFFFE\uFFFF]")
	xpacketBeginPattern = regexp.MustCompile(`begin="[^"]*"`)
)

// sanitizePacket strips stray byte-order marks and repairs the xpacket begin
// attribute, which some tools emit with a raw BOM value that breaks XML
// parsing.
func sanitizePacket(raw []byte) string {
	s := bomPattern.ReplaceAllString(string(raw), "")
	s = xpacketBeginPattern.ReplaceAllString(s, `begin=""`)
	return strings.TrimSpace(s)
}
