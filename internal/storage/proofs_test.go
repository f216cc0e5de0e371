package storage

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestSaveAndServe(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProofs(dir, 1<<20)
	require.NoError(t, err)

	data := pngBytes(t)
	name, err := p.Save(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(name, "proof-"))
	require.Equal(t, ".png", filepath.Ext(name))

	onDisk, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	require.Equal(t, data, onDisk)

	mux := http.NewServeMux()
	mux.Handle("GET /uploads/proofs/{name}", p)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/proofs/"+name, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, data, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/proofs/proof-missing.png", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSave_RejectsNonImages(t *testing.T) {
	p, err := NewProofs(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = p.Save(strings.NewReader("#!/bin/sh\necho hi\n"))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = p.Save(strings.NewReader(""))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestSave_EnforcesLimit(t *testing.T) {
	dir := t.TempDir()
	data := pngBytes(t)
	p, err := NewProofs(dir, int64(len(data)-1))
	require.NoError(t, err)

	_, err = p.Save(bytes.NewReader(data))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "partial file removed")
}

func TestRemoveAndTraversal(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProofs(dir, 0)
	require.NoError(t, err)

	name, err := p.Save(bytes.NewReader(pngBytes(t)))
	require.NoError(t, err)

	require.NoError(t, p.Remove(name))
	require.NoError(t, p.Remove(name), "already gone")
	_, err = p.Open(name)
	require.ErrorIs(t, err, errs.ErrNotFound)

	for _, bad := range []string{"../secret", "proof-../../etc/passwd", "notes.txt", ""} {
		_, err := p.Open(bad)
		require.ErrorIs(t, err, errs.ErrNotFound, bad)
	}
}
