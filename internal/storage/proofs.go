// Package storage keeps proof-of-delivery photos on local disk.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/alurea-fulfillment/internal/errs"
)

// allowed maps accepted content types to file extensions.
var allowed = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Proofs stores files under one directory with server-generated names.
type Proofs struct {
	dir     string
	maxSize int64
}

// NewProofs creates dir if needed.
func NewProofs(dir string, maxSize int64) (*Proofs, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create proof dir: %w", err)
	}
	return &Proofs{dir: dir, maxSize: maxSize}, nil
}

// Save sniffs the content type, writes r to a fresh "proof-<uuid><ext>" file and returns its name.
// Non-image content and files larger than the limit are rejected with ErrInvalidArgument.
func (p *Proofs) Save(r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("empty proof: %w", errs.ErrInvalidArgument)
		}
		return "", err
	}
	head = head[:n]

	ext, ok := allowed[http.DetectContentType(head)]
	if !ok {
		return "", fmt.Errorf("proof must be an image: %w", errs.ErrInvalidArgument)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	name := "proof-" + id.String() + ext
	path := filepath.Join(p.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create proof: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(head), r)
	if p.maxSize > 0 {
		body = io.LimitReader(body, p.maxSize+1)
	}
	written, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && p.maxSize > 0 && written > p.maxSize {
		err = fmt.Errorf("proof exceeds %d bytes: %w", p.maxSize, errs.ErrInvalidArgument)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return name, nil
}

// Remove deletes a stored proof. Missing files are not an error.
func (p *Proofs) Remove(name string) error {
	path, err := p.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Open returns a stored proof for reading.
func (p *Proofs) Open(name string) (*os.File, error) {
	path, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.ErrNotFound
	}
	return f, err
}

// ServeHTTP serves GET /uploads/proofs/{name}.
func (p *Proofs) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, err := p.Open(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

// resolve rejects anything that is not a plain proof file name.
func (p *Proofs) resolve(name string) (string, error) {
	if !strings.HasPrefix(name, "proof-") || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", errs.ErrNotFound
	}
	return filepath.Join(p.dir, name), nil
}
