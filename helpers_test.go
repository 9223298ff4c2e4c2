package fatfs

import (
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
)

// testSectors is large enough for every test that does not want to run out of space.
const testSectors = 1024

func testingLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testingDevice creates a zeroed in-memory image.
func testingDevice(t *testing.T, sectors uint32) *ImageDevice {
	t.Helper()

	dev, err := CreateImage(afero.NewMemMapFs(), "test.img", sectors)
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

// testingMount formats and mounts dev.
func testingMount(t *testing.T, dev Device) *FileSystem {
	t.Helper()

	fs, err := Mount(dev, WithFormat(true), WithLogger(testingLogger()))
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	return fs
}

// testingNew returns a fresh filesystem of testSectors sectors and a context at its root.
func testingNew(t *testing.T) (*FileSystem, *Context) {
	t.Helper()

	fs := testingMount(t, testingDevice(t, testSectors))
	ctx, err := fs.NewContext()
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	return fs, ctx
}

// testingVolume returns the volume of a fresh filesystem for tests below the
// FileSystem API. The caller must not use it concurrently.
func testingVolume(t *testing.T, sectors uint32) *volume {
	t.Helper()
	return testingMount(t, testingDevice(t, sectors)).vol
}

// testingCheck fails the test if the filesystem is inconsistent.
func testingCheck(t *testing.T, fs *FileSystem) {
	t.Helper()

	report, err := fs.Check()
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	for _, problem := range report.Problems {
		t.Errorf("Check() problem: %s", problem)
	}
}
