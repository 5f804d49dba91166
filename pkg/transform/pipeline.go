// Copyright 2026 University of Oslo
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transform composes the streaming decoders applied to upload
// bodies before they are persisted. The pipeline is a closed variant
// set selected once from the Content-Type header; each variant is a
// composition of streaming stages (base64, AES-CBC, gzip) whose memory
// footprint is O(chunk), never O(file).
package transform

import (
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

// Pipeline enumerates the supported body encodings.
type Pipeline int

const (
	// Identity stores the body as-is. Unrecognized content types fall
	// back to Identity, so clients may stream anything opaque.
	Identity Pipeline = iota
	// Aes is base64-encoded AES-256-CBC ciphertext.
	Aes
	// AesBin is raw AES-256-CBC ciphertext.
	AesBin
	// Gz is a gzip stream.
	Gz
	// GzAes is base64-encoded, AES-encrypted gzip.
	GzAes
	// Tar is a tar archive, extracted entry by entry.
	Tar
	// TarGz is a gzipped tar archive.
	TarGz
	// TarAes is base64-encoded, AES-encrypted tar.
	TarAes
	// TarGzAes is base64-encoded, AES-encrypted, gzipped tar.
	TarGzAes
)

// FromContentType selects the pipeline for a request Content-Type.
func FromContentType(contentType string) Pipeline {
	mediatype := strings.TrimSpace(strings.Split(contentType, ";")[0])
	switch mediatype {
	case "application/aes":
		return Aes
	case "application/aes-octet-stream":
		return AesBin
	case "application/gz":
		return Gz
	case "application/gz.aes":
		return GzAes
	case "application/tar":
		return Tar
	case "application/tar.gz":
		return TarGz
	case "application/tar.aes":
		return TarAes
	case "application/tar.gz.aes":
		return TarGzAes
	default:
		return Identity
	}
}

// NeedsKey reports whether the pipeline requires AES key material.
func (p Pipeline) NeedsKey() bool {
	switch p {
	case Aes, AesBin, GzAes, TarAes, TarGzAes:
		return true
	}
	return false
}

// IsTar reports whether the decoded stream is a tar archive that must
// be fanned out into one file per entry.
func (p Pipeline) IsTar() bool {
	switch p {
	case Tar, TarGz, TarAes, TarGzAes:
		return true
	}
	return false
}

// Wrap composes the pipeline's stages over the raw body reader. For
// tar variants the returned reader yields the decoded tar archive; the
// sink drives the per-entry fan-out.
func (p Pipeline) Wrap(body io.Reader, km *KeyMaterial) (io.Reader, error) {
	if p.NeedsKey() && km == nil {
		return nil, errtypes.TransformError("missing Aes-Key header")
	}
	r := body
	switch p {
	case Identity, Tar:
		return r, nil
	case AesBin:
		r = newCBCReader(r, km)
	case Aes, TarAes:
		r = newCBCReader(newBase64Reader(r), km)
	case Gz, TarGz:
		return newGunzipReader(r), nil
	case GzAes, TarGzAes:
		r = newGunzipReader(newCBCReader(newBase64Reader(r), km))
	}
	return &errorMapper{r: r}, nil
}

// newBase64Reader decodes base64 as produced by `openssl enc -a`,
// which inserts line breaks the std decoder rejects.
func newBase64Reader(src io.Reader) io.Reader {
	return base64.NewDecoder(base64.StdEncoding, &lineFilter{src: src})
}

// lineFilter drops CR and LF bytes from the stream.
type lineFilter struct {
	src io.Reader
	buf []byte
}

func (f *lineFilter) Read(p []byte) (int, error) {
	if f.buf == nil {
		f.buf = make([]byte, len(p))
	}
	if len(f.buf) < len(p) {
		f.buf = make([]byte, len(p))
	}
	for {
		n, err := f.src.Read(f.buf[:len(p)])
		k := 0
		for _, b := range f.buf[:n] {
			if b == '\n' || b == '\r' {
				continue
			}
			p[k] = b
			k++
		}
		if k > 0 || err != nil {
			return k, err
		}
	}
}

// gunzipReader defers gzip header parsing to the first read so that
// pipelines can be constructed before any body bytes arrive.
type gunzipReader struct {
	src io.Reader
	zr  *gzip.Reader
	err error
}

func newGunzipReader(src io.Reader) io.Reader {
	return &errorMapper{r: &gunzipReader{src: src}}
}

func (g *gunzipReader) Read(p []byte) (int, error) {
	if g.err != nil {
		return 0, g.err
	}
	if g.zr == nil {
		g.zr, g.err = gzip.NewReader(g.src)
		if g.err != nil {
			return 0, g.err
		}
	}
	return g.zr.Read(p)
}

// errorMapper folds decoder failures into the TransformError kind so
// handlers answer 400, not 500, on malformed input.
type errorMapper struct {
	r io.Reader
}

func (m *errorMapper) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if err != nil && err != io.EOF {
		err = classify(err)
	}
	return n, err
}

func classify(err error) error {
	var ws errtypes.WithStatus
	if errors.As(err, &ws) {
		return err
	}
	var b64 base64.CorruptInputError
	var corrupt flate.CorruptInputError
	switch {
	case errors.Is(err, gzip.ErrHeader), errors.Is(err, gzip.ErrChecksum),
		errors.As(err, &corrupt), errors.As(err, &b64),
		errors.Is(err, io.ErrUnexpectedEOF):
		return errtypes.TransformError(err.Error())
	}
	return err
}
