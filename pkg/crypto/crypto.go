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

// Package crypto provides the checksum helpers used by the chunk
// ledger and the merge verification.
package crypto

import (
	"crypto/md5"
	"fmt"
	"hash"
	"io"
	"os"
)

// ComputeMD5 computes the MD5 checksum of the full reader, hex encoded.
func ComputeMD5(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// MD5File computes the MD5 checksum of the file at path.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ComputeMD5(f)
}

// MD5Sink tees a writer through an MD5 hash so the checksum of
// streamed bytes is available after the copy without a second pass.
type MD5Sink struct {
	h hash.Hash
	w io.Writer
}

// NewMD5Sink wraps w.
func NewMD5Sink(w io.Writer) *MD5Sink {
	return &MD5Sink{h: md5.New(), w: w}
}

func (s *MD5Sink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if n > 0 {
		s.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the hex encoded checksum of everything written so far.
func (s *MD5Sink) Sum() string {
	return fmt.Sprintf("%x", s.h.Sum(nil))
}
