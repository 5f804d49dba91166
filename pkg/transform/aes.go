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

package transform

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

// opensslMagic starts every passphrase-encrypted openssl enc stream;
// the 8 salt bytes follow it.
const opensslMagic = "Salted__"

// KeyMaterial is the decrypted AES key material from the request
// headers. Either Key+IV are set (hex key mode, Aes-Iv present) or
// Passphrase is set (openssl Salted__ mode).
type KeyMaterial struct {
	Key        []byte
	IV         []byte
	Passphrase []byte
}

// ParseKeyMaterial interprets the PGP-decrypted Aes-Key header value.
// When hexIV is non-empty the value is a hex-encoded 32-byte AES key;
// otherwise it is an openssl-compatible passphrase.
func ParseKeyMaterial(decrypted []byte, hexIV string) (*KeyMaterial, error) {
	if hexIV == "" {
		return &KeyMaterial{Passphrase: bytes.TrimRight(decrypted, "\r\n")}, nil
	}
	iv, err := hex.DecodeString(strings.TrimSpace(hexIV))
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errtypes.TransformError("Aes-Iv must be 32 hex characters")
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(decrypted)))
	if err != nil || len(key) != 32 {
		return nil, errtypes.TransformError("Aes-Key must decrypt to a 64 hex character key")
	}
	return &KeyMaterial{Key: key, IV: iv}, nil
}

// evpBytesToKey derives an AES key and IV from a passphrase and salt
// the way the legacy openssl EVP_BytesToKey does: MD5, one iteration.
// Kept for wire compatibility with `openssl enc -aes-256-cbc -pass`.
func evpBytesToKey(pass, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(pass)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

// cbcReader decrypts an AES-256-CBC stream incrementally. It holds
// back one decrypted block so the PKCS#7 padding can be stripped when
// the source ends; memory use is O(chunk) regardless of stream size.
type cbcReader struct {
	src io.Reader
	km  *KeyMaterial

	mode cipher.BlockMode
	buf  []byte // read buffer
	rem  []byte // ciphertext shorter than a block
	hold []byte // last decrypted block, padding candidate
	out  []byte // plaintext ready to emit
	err  error
	eof  bool
}

func newCBCReader(src io.Reader, km *KeyMaterial) *cbcReader {
	return &cbcReader{src: src, km: km, buf: make([]byte, 32*1024)}
}

func (r *cbcReader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.eof {
			return 0, io.EOF
		}
		if r.mode == nil {
			if r.err = r.init(); r.err != nil {
				return 0, r.err
			}
			continue
		}
		r.fill()
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// init sets up the block mode. In passphrase mode the key and IV are
// derived from the Salted__ header, which is consumed from the stream.
func (r *cbcReader) init() error {
	key, iv := r.km.Key, r.km.IV
	if key == nil {
		var hdr [16]byte // magic + salt
		if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
			return errtypes.TransformError("missing openssl salt header")
		}
		if string(hdr[:8]) != opensslMagic {
			return errtypes.TransformError("ciphertext does not start with the openssl magic")
		}
		key, iv = evpBytesToKey(r.km.Passphrase, hdr[8:], 32, aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return errtypes.TransformError("invalid AES key length")
	}
	r.mode = cipher.NewCBCDecrypter(block, iv)
	return nil
}

func (r *cbcReader) fill() {
	n, err := r.src.Read(r.buf)
	if n > 0 {
		r.rem = append(r.rem, r.buf[:n]...)
	}
	if err != nil && err != io.EOF {
		r.err = err
		return
	}

	if k := len(r.rem) / aes.BlockSize * aes.BlockSize; k > 0 {
		r.mode.CryptBlocks(r.rem[:k], r.rem[:k])
		plain := make([]byte, 0, len(r.hold)+k)
		plain = append(plain, r.hold...)
		plain = append(plain, r.rem[:k]...)
		r.hold = append(r.hold[:0], plain[len(plain)-aes.BlockSize:]...)
		r.out = plain[:len(plain)-aes.BlockSize]
		r.rem = append(r.rem[:0], r.rem[k:]...)
	}

	if err == io.EOF {
		r.err = r.finish()
		if r.err == nil {
			r.eof = true
		}
	}
}

// finish strips the PKCS#7 padding from the held-back final block.
func (r *cbcReader) finish() error {
	if len(r.rem) != 0 {
		return errtypes.TransformError("ciphertext length is not a multiple of the block size")
	}
	if len(r.hold) != aes.BlockSize {
		return errtypes.TransformError("truncated ciphertext")
	}
	pad := int(r.hold[aes.BlockSize-1])
	if pad < 1 || pad > aes.BlockSize {
		return errtypes.TransformError("bad padding")
	}
	for _, b := range r.hold[aes.BlockSize-pad:] {
		if int(b) != pad {
			return errtypes.TransformError("bad padding")
		}
	}
	r.out = append(r.out, r.hold[:aes.BlockSize-pad]...)
	return nil
}
