package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickcull/cullingbackend/models"
)

const (
	testDebounce = 100 * time.Millisecond
	testCooldown = 50 * time.Millisecond
)

func startWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(dir, testDebounce, testCooldown)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Close() })
	return w, dir
}

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) *models.ChangeEvent {
	t.Helper()
	select {
	case ev := <-w.Events():
		return &ev
	case <-time.After(timeout):
		return nil
	}
}

func TestBurstCollapsesToOneEvent(t *testing.T) {
	w, dir := startWatcher(t)

	imagePath := filepath.Join(dir, "img1.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("img"), 0644))
	sidecarPath := filepath.Join(dir, "img1.xmp")

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(sidecarPath, []byte("rev"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev, "expected one debounced event")
	assert.Equal(t, sidecarPath, ev.SidecarPath)
	assert.Equal(t, imagePath, ev.ImagePath)
	assert.Equal(t, "img1.jpg", ev.ImageFilename)

	// the burst must not produce a second event
	extra := waitForEvent(t, w, 3*testDebounce)
	assert.Nil(t, extra, "burst produced more than one event")
}

func TestNonSidecarFilesIgnored(t *testing.T) {
	w, dir := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "img1.jpg"), []byte("img"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("note"), 0644))

	ev := waitForEvent(t, w, 4*testDebounce)
	assert.Nil(t, ev, "non-sidecar files must not produce events")
}

func TestSuspendDiscardsEvents(t *testing.T) {
	w, dir := startWatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img1.jpg"), []byte("img"), 0644))

	w.Suspend()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img1.xmp"), []byte("rev"), 0644))
	time.Sleep(3 * testDebounce)
	w.Resume()

	ev := waitForEvent(t, w, 3*testDebounce)
	assert.Nil(t, ev, "events from the suspended window must be discarded")

	// the watcher keeps working after resume
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img1.xmp"), []byte("rev2"), 0644))
	ev = waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, "img1.jpg", ev.ImageFilename)
}

func TestDeleteEvent(t *testing.T) {
	w, dir := startWatcher(t)
	imagePath := filepath.Join(dir, "img1.jpg")
	sidecarPath := filepath.Join(dir, "img1.xmp")
	require.NoError(t, os.WriteFile(imagePath, []byte("img"), 0644))

	// creating without writing keeps the burst to a single create event;
	// a write would fold in and the collapsed type would be modified
	f, err := os.OpenFile(sidecarPath, os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, models.ChangeCreated, ev.Type)

	// wait out the cooldown before the next change to the same path
	time.Sleep(2 * testCooldown)

	require.NoError(t, os.Remove(sidecarPath))
	ev = waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, models.ChangeDeleted, ev.Type)
	assert.Equal(t, imagePath, ev.ImagePath, "image still on disk resolves")
}

func TestCloseIsIdempotent(t *testing.T) {
	w, _ := startWatcher(t)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
