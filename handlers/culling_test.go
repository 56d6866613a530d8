package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickcull/cullingbackend/analysis"
	"github.com/quickcull/cullingbackend/config"
	"github.com/quickcull/cullingbackend/culling"
	"github.com/quickcull/cullingbackend/fsscan"
	"github.com/quickcull/cullingbackend/realtime"
	"github.com/quickcull/cullingbackend/xmp"
)

func newTestHandler() *CullingHandler {
	hub := realtime.NewHub()
	svc := culling.NewService(config.Config{}, fsscan.NewScanner(), xmp.NewService(), analysis.NewDefaultPipeline(), hub)
	return &CullingHandler{Service: svc, Hub: hub}
}

func TestListImagesWithoutFolder(t *testing.T) {
	h := newTestHandler()
	rec := httptest.NewRecorder()
	h.ListImages(rec, httptest.NewRequest(http.MethodGet, "/api/images", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalyzeAllWithoutFolder(t *testing.T) {
	h := newTestHandler()
	rec := httptest.NewRecorder()
	h.AnalyzeAll(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoadFolderRejectsBadBody(t *testing.T) {
	h := newTestHandler()
	rec := httptest.NewRecorder()
	h.LoadFolder(rec, httptest.NewRequest(http.MethodPost, "/api/folder/load", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAPIError(rec, http.StatusNotFound, "not_found", "image not found in cache: a.jpg")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"error": {
			"code": "not_found",
			"status": 404,
			"detail": "image not found in cache: a.jpg"
		}
	}`, rec.Body.String())
}

func filterRequest(t *testing.T, query string) *http.Request {
	t.Helper()
	u, err := url.Parse("/api/images?" + query)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodGet, u.String(), nil)
}

func TestParseFilter(t *testing.T) {
	filter, err := parseFilter(filterRequest(t, "min_rating=3&min_sharpness=0.5&analyzed=true&formats=.jpg,.nef&q=IMG"))
	require.NoError(t, err)
	require.NotNil(t, filter)
	require.NotNil(t, filter.MinRating)
	assert.Equal(t, 3, *filter.MinRating)
	require.NotNil(t, filter.MinSharpness)
	assert.InDelta(t, 0.5, *filter.MinSharpness, 0.0001)
	assert.True(t, filter.AnalyzedOnly)
	assert.Equal(t, []string{".jpg", ".nef"}, filter.IncludeFormats)
	assert.Equal(t, "IMG", filter.SearchText)

	filter, err = parseFilter(filterRequest(t, ""))
	require.NoError(t, err)
	assert.Nil(t, filter)

	_, err = parseFilter(filterRequest(t, "min_rating=abc"))
	assert.Error(t, err)
}
