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

package files_test

import (
	"archive/tar"
	"bytes"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logmw "github.com/unioslo/tsd-file-api/internal/http/interceptors/log"
	"github.com/unioslo/tsd-file-api/internal/http/services/files"
	"github.com/unioslo/tsd-file-api/internal/http/services/metrics"
	"github.com/unioslo/tsd-file-api/pkg/config"
	"github.com/unioslo/tsd-file-api/pkg/paths"
	"github.com/unioslo/tsd-file-api/pkg/resumable"
	"github.com/unioslo/tsd-file-api/pkg/token"
)

const secret = "testsecret"

type env struct {
	ts      *httptest.Server
	uploads string
	sns     string
	export  string
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()
	e := &env{
		uploads: t.TempDir(),
		sns:     t.TempDir(),
		export:  t.TempDir(),
	}
	cfg := &config.Config{
		JWTSecrets:     map[string]string{"p11": secret},
		UploadsRoot:    map[string]string{"p11": e.uploads},
		SnsUploadsRoot: e.sns,
		ExportRoot:     map[string]string{"p11": e.export},
	}
	cfg.ApplyDefaults()
	if mutate != nil {
		mutate(cfg)
	}

	verifier := token.NewVerifier(cfg.JWTSecrets)
	resolver := paths.NewResolver(cfg.UploadsRoot, cfg.SnsUploadsRoot, cfg.ExportRoot)
	uploads := resumable.New(cfg.UploadsRoot)
	svc := files.New(cfg, resolver, nil, uploads, metrics.New())

	r := chi.NewRouter()
	r.Use(logmw.New(zerolog.Nop()))
	r.Mount("/", svc.Routes(verifier))

	e.ts = httptest.NewServer(r)
	t.Cleanup(e.ts.Close)
	return e
}

func mintUserToken(t *testing.T, role, user string, groups []string, exp time.Time) string {
	t.Helper()
	tkn, err := token.Mint(secret, token.Claims{
		Role:   role,
		User:   user,
		Pnum:   "p11",
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	require.NoError(t, err)
	return tkn
}

func mintToken(t *testing.T, role string, groups []string, exp time.Time) string {
	return mintUserToken(t, role, "p11-testuser", groups, exp)
}

func appToken(t *testing.T) string {
	return mintToken(t, token.RoleAppUser, []string{"p11-member-group"}, time.Now().Add(30*time.Minute))
}

func exportToken(t *testing.T) string {
	return mintToken(t, token.RoleExportUser, []string{"p11-member-group"}, time.Now().Add(30*time.Minute))
}

func (e *env) do(t *testing.T, method, path, bearer string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStreamUpload(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPut, "/p11/files/stream/data.csv", appToken(t),
		strings.NewReader("x,y\n4,5\n2,1\n"), nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(e.uploads, "p11-member-group", "data.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x,y\n4,5\n2,1\n", string(data))
}

func TestStreamFilenameHeaderFallback(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPut, "/p11/files/stream", appToken(t),
		strings.NewReader("payload"), map[string]string{"Filename": "header.csv"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_, err := os.Stat(filepath.Join(e.uploads, "p11-member-group", "header.csv"))
	assert.NoError(t, err)
}

func TestUploadStreamAlias(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPut, "/p11/files/upload_stream/alias.csv", appToken(t),
		strings.NewReader("payload"), nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestStreamAuth(t *testing.T) {
	e := newEnv(t, nil)
	body := func() io.Reader { return strings.NewReader("x") }

	resp := e.do(t, http.MethodPut, "/p11/files/stream/f.csv", "", body(), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodPut, "/p11/files/stream/f.csv", "garbage", body(), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	expired := mintToken(t, token.RoleAppUser, nil, time.Now().Add(-time.Minute))
	resp = e.do(t, http.MethodPut, "/p11/files/stream/f.csv", expired, body(), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	tooLong := mintToken(t, token.RoleAppUser, nil, time.Now().Add(48*time.Hour))
	resp = e.do(t, http.MethodPut, "/p11/files/stream/f.csv", tooLong, body(), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// token minted for p11 used against another project
	resp = e.do(t, http.MethodPut, "/p12/files/stream/f.csv", appToken(t), body(), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// export tokens cannot upload
	resp = e.do(t, http.MethodPut, "/p11/files/stream/f.csv", exportToken(t), body(), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamGroupSelection(t *testing.T) {
	e := newEnv(t, nil)
	tkn := mintToken(t, token.RoleAppUser,
		[]string{"p11-member-group", "p11-data-group"}, time.Now().Add(30*time.Minute))

	resp := e.do(t, http.MethodPut, "/p11/files/stream/g.csv?group=p11-data-group", tkn,
		strings.NewReader("x"), nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_, err := os.Stat(filepath.Join(e.uploads, "p11-data-group", "g.csv"))
	assert.NoError(t, err)

	// not a member of the named group
	resp = e.do(t, http.MethodPut, "/p11/files/stream/g.csv?group=p11-secret-group", tkn,
		strings.NewReader("x"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// group of another project
	resp = e.do(t, http.MethodPut, "/p11/files/stream/g.csv?group=p12-member-group", tkn,
		strings.NewReader("x"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamFilenameValidation(t *testing.T) {
	e := newEnv(t, nil)

	resp := e.do(t, http.MethodPut, "/p11/files/stream", appToken(t),
		strings.NewReader("x"), map[string]string{"Filename": "../evil"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPut, "/p11/files/stream", appToken(t),
		strings.NewReader("x"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamGzip(t *testing.T) {
	e := newEnv(t, nil)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("decompressed content\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	resp := e.do(t, http.MethodPut, "/p11/files/stream/c.csv", appToken(t), &buf,
		map[string]string{"Content-Type": "application/gz"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(e.uploads, "p11-member-group", "c.csv"))
	require.NoError(t, err)
	assert.Equal(t, "decompressed content\n", string(data))
}

func TestStreamBadGzip(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPut, "/p11/files/stream/c.csv", appToken(t),
		strings.NewReader("definitely not gzip"),
		map[string]string{"Content-Type": "application/gz"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// the failed upload left nothing behind
	_, err := os.Stat(filepath.Join(e.uploads, "p11-member-group", "c.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestStreamTarFanout(t *testing.T) {
	e := newEnv(t, nil)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range map[string]string{"dir1/a.txt": "aaa", "dir1/b.txt": "bbb"} {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0o640, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	resp := e.do(t, http.MethodPut, "/p11/files/stream/archive.tar", appToken(t), &buf,
		map[string]string{"Content-Type": "application/tar"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(e.uploads, "p11-member-group", "dir1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aaa", string(data))
}

func TestStreamTarBrokenArchive(t *testing.T) {
	e := newEnv(t, nil)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "kept.txt", Typeflag: tar.TypeReg, Mode: 0o640, Size: 4,
	}))
	_, err := tw.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, tw.Flush())
	// a garbage block after a complete entry breaks the archive
	buf.Write(bytes.Repeat([]byte{'x'}, 512))

	resp := e.do(t, http.MethodPut, "/p11/files/stream/archive.tar", appToken(t), &buf,
		map[string]string{"Content-Type": "application/tar"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// the entry committed before the failure is removed again
	_, err = os.Stat(filepath.Join(e.uploads, "p11-member-group", "kept.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestStreamCap(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.MaxStreamBytes = 8 })
	resp := e.do(t, http.MethodPut, "/p11/files/stream/big.csv", appToken(t),
		strings.NewReader("way more than eight bytes"), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHeadStream(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodHead, "/p11/files/stream/data.csv", appToken(t), nil, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodHead, "/p11/files/stream/data.csv", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodHead, "/p11/files/stream", appToken(t), nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// encrypted uploads need key material, HEAD included
	resp = e.do(t, http.MethodHead, "/p11/files/stream/data.csv", appToken(t), nil,
		map[string]string{"Content-Type": "application/aes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHeadFormUpload(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodHead, "/p11/files/upload", appToken(t), nil,
		map[string]string{"Content-Type": "multipart/form-data; boundary=xyz"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// a POST without a multipart body would fail, so HEAD must too
	resp = e.do(t, http.MethodHead, "/p11/files/upload", appToken(t), nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodHead, "/p11/files/upload", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func multipartBody(t *testing.T, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestFormUpload(t *testing.T) {
	e := newEnv(t, nil)
	body, ct := multipartBody(t, map[string]string{
		"form1.txt": "first",
		"form2.txt": "second",
	})
	resp := e.do(t, http.MethodPost, "/p11/files/upload", appToken(t), body,
		map[string]string{"Content-Type": ct})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Len(t, out["files"], 2)

	data, err := os.ReadFile(filepath.Join(e.uploads, "form1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestFormUploadTooLarge(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.MaxBodyBytes = 64 })
	body, ct := multipartBody(t, map[string]string{
		"big.txt": strings.Repeat("x", 4096),
	})
	resp := e.do(t, http.MethodPost, "/p11/files/upload", appToken(t), body,
		map[string]string{"Content-Type": ct})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestFormUploadNoFile(t *testing.T) {
	e := newEnv(t, nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())

	resp := e.do(t, http.MethodPost, "/p11/files/upload", appToken(t), &buf,
		map[string]string{"Content-Type": mw.FormDataContentType()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSnsUpload(t *testing.T) {
	e := newEnv(t, nil)
	body, ct := multipartBody(t, map[string]string{"submission.json": `{"answer": 42}`})
	resp := e.do(t, http.MethodPost, "/p11/sns/255CE5ED50A7558B/92084", appToken(t), body,
		map[string]string{"Content-Type": ct})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	stored := filepath.Join(e.sns, "p11", "nettskjema-submissions", "255CE5ED50A7558B", "92084", "submission.json")
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, `{"answer": 42}`, string(data))

	shadow := filepath.Join(e.sns, "p11", ".tsd", "255CE5ED50A7558B", "92084", "submission.json")
	data, err = os.ReadFile(shadow)
	require.NoError(t, err)
	assert.Equal(t, `{"answer": 42}`, string(data))
}

func TestSnsValidation(t *testing.T) {
	e := newEnv(t, nil)
	body, ct := multipartBody(t, map[string]string{"s.json": "x"})
	// lowercase key id is rejected, not normalized
	resp := e.do(t, http.MethodPost, "/p11/sns/255ce5ed50a7558b/92084", appToken(t), body,
		map[string]string{"Content-Type": ct})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct = multipartBody(t, map[string]string{"s.json": "x"})
	resp = e.do(t, http.MethodPost, "/p11/sns/255CE5ED50A7558B/notanumber", appToken(t), body,
		map[string]string{"Content-Type": ct})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSnsEmptyFile(t *testing.T) {
	e := newEnv(t, nil)
	body, ct := multipartBody(t, map[string]string{"empty.json": ""})
	resp := e.do(t, http.MethodPost, "/p11/sns/255CE5ED50A7558B/92084", appToken(t), body,
		map[string]string{"Content-Type": ct})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := os.Stat(filepath.Join(e.sns, "p11", "nettskjema-submissions", "255CE5ED50A7558B", "92084", "empty.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestResumableFlow(t *testing.T) {
	e := newEnv(t, nil)
	full := "x,y\n4,5\n2,1\n"

	resp := e.do(t, http.MethodPatch, "/p11/files/stream/r.csv?chunk=1", appToken(t),
		strings.NewReader(full[:6]), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decodeJSON(t, resp)
	id := out["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, float64(1), out["max_chunk"])

	resp = e.do(t, http.MethodPatch, "/p11/files/stream/r.csv?chunk=2&id="+id, appToken(t),
		strings.NewReader(full[6:]), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out = decodeJSON(t, resp)
	assert.Equal(t, float64(2), out["max_chunk"])

	sum := fmt.Sprintf("%x", md5.Sum([]byte(full)))
	resp = e.do(t, http.MethodPatch, "/p11/files/stream/r.csv?chunk=end&id="+id, appToken(t),
		nil, map[string]string{"Content-MD5": sum})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out = decodeJSON(t, resp)
	assert.Equal(t, "end", out["max_chunk"])

	data, err := os.ReadFile(filepath.Join(e.uploads, "p11-member-group", "r.csv"))
	require.NoError(t, err)
	assert.Equal(t, full, string(data))

	// ledger destroyed after finalization
	resp = e.do(t, http.MethodGet, "/p11/files/resumables/r.csv?id="+id, appToken(t), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResumableChecksumMismatch(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPatch, "/p11/files/stream/bad.csv?chunk=1", appToken(t),
		strings.NewReader("corrupted"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeJSON(t, resp)["id"].(string)

	resp = e.do(t, http.MethodPatch, "/p11/files/stream/bad.csv?chunk=end&id="+id, appToken(t),
		nil, map[string]string{"Content-MD5": "d41d8cd98f00b204e9800998ecf8427e"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := os.Stat(filepath.Join(e.uploads, "p11-member-group", "bad.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestResumableOwnerIsolation(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPatch, "/p11/files/stream/o.csv?chunk=1", appToken(t),
		strings.NewReader("owned"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeJSON(t, resp)["id"].(string)

	// another project member who learned the id cannot touch the upload
	other := mintUserToken(t, token.RoleAppUser, "p11-otheruser",
		[]string{"p11-member-group"}, time.Now().Add(30*time.Minute))

	resp = e.do(t, http.MethodPatch, "/p11/files/stream/o.csv?chunk=2&id="+id, other,
		strings.NewReader("hijacked"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPatch, "/p11/files/stream/o.csv?chunk=end&id="+id, other, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/p11/files/resumables/o.csv?id="+id, other, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/p11/files/resumables/o.csv?id="+id, other, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/p11/files/resumables", other, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeJSON(t, resp)["resumables"])

	// the owner's upload is intact and still finalizable
	resp = e.do(t, http.MethodPatch, "/p11/files/stream/o.csv?chunk=end&id="+id, appToken(t), nil, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	data, err := os.ReadFile(filepath.Join(e.uploads, "p11-member-group", "o.csv"))
	require.NoError(t, err)
	assert.Equal(t, "owned", string(data))
}

func TestResumableList(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/p11/files/resumables", appToken(t), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)
	assert.Empty(t, out["resumables"])

	resp = e.do(t, http.MethodPatch, "/p11/files/stream/l.csv?chunk=1", appToken(t),
		strings.NewReader("one"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/p11/files/resumables", appToken(t), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = decodeJSON(t, resp)
	assert.Len(t, out["resumables"], 1)
}

func TestResumableDelete(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPatch, "/p11/files/stream/d.csv?chunk=1", appToken(t),
		strings.NewReader("one"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeJSON(t, resp)["id"].(string)

	resp = e.do(t, http.MethodDelete, "/p11/files/resumables/d.csv?id="+id, appToken(t), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/p11/files/resumables/d.csv?id="+id, appToken(t), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportList(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(e.export, "result.csv"), []byte("a,b\n"), 0o640))
	require.NoError(t, os.Mkdir(filepath.Join(e.export, "subdir"), 0o750))

	resp := e.do(t, http.MethodGet, "/p11/files/export", exportToken(t), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeJSON(t, resp)
	files := out["files"].([]any)
	require.Len(t, files, 1)
	entry := files[0].(map[string]any)
	assert.Equal(t, "result.csv", entry["name"])
	assert.Equal(t, float64(4), entry["size"])
}

func TestExportDownload(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(e.export, "result.csv"), []byte("a,b\n1,2\n"), 0o640))

	resp := e.do(t, http.MethodGet, "/p11/files/export/result.csv", exportToken(t), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "8", resp.Header.Get("Content-Length"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	resp = e.do(t, http.MethodGet, "/p11/files/export/missing.csv", exportToken(t), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportTraversal(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodGet, "/p11/files/export/bad%20name", exportToken(t), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExportSymlinkEscape(t *testing.T) {
	e := newEnv(t, nil)
	outside := filepath.Join(t.TempDir(), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o640))
	require.NoError(t, os.Symlink(outside, filepath.Join(e.export, "link.txt")))

	resp := e.do(t, http.MethodGet, "/p11/files/export/link.txt", exportToken(t), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExportRoles(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(e.export, "f.csv"), []byte("x"), 0o640))

	// upload tokens cannot export
	resp := e.do(t, http.MethodGet, "/p11/files/export", appToken(t), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// admin tokens can download but not list
	admin := mintToken(t, token.RoleAdminUser, nil, time.Now().Add(30*time.Minute))
	resp = e.do(t, http.MethodGet, "/p11/files/export/f.csv", admin, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/p11/files/export", admin, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestErrorBodyIsJSON(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.do(t, http.MethodPut, "/p11/files/stream/f.csv", "", strings.NewReader("x"), nil)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	out := decodeJSON(t, resp)
	assert.Contains(t, out, "message")
}
