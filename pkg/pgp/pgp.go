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

// Package pgp decrypts the PGP-encrypted key material clients send in
// the Aes-Key header. The server's private key ring is loaded once at
// startup; key material is decrypted per request and never cached.
package pgp

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/pkg/errors"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

// Keyring holds the server's private keys.
type Keyring struct {
	entities openpgp.EntityList
}

// LoadKeyring reads a secret key ring from path. Both binary and
// armored key rings are accepted.
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "pgp: error reading secring")
	}
	return ParseKeyring(data)
}

// ParseKeyring parses a secret key ring from raw bytes.
func ParseKeyring(data []byte) (*Keyring, error) {
	el, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		el, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, errors.Wrap(err, "pgp: error parsing secring")
	}
	return &Keyring{entities: el}, nil
}

// Decrypt decrypts a base64-encoded PGP message with the server's
// private key and returns the plaintext. The message may be armored or
// binary under the base64 layer.
func (k *Keyring) Decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errtypes.TransformError("key material is not valid base64")
	}
	var r io.Reader = bytes.NewReader(data)
	if block, err := armor.Decode(bytes.NewReader(data)); err == nil {
		r = block.Body
	}
	md, err := openpgp.ReadMessage(r, k.entities, nil, nil)
	if err != nil {
		return nil, errtypes.TransformError("unable to decrypt key material")
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, errtypes.TransformError("unable to decrypt key material")
	}
	return plaintext, nil
}
