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

package sink_test

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
	"github.com/unioslo/tsd-file-api/pkg/sink"
)

func TestStore(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "p11-member-group", "example.csv")
	n, err := sink.Store(strings.NewReader("x,y\n4,5\n2,1\n"), dest, sink.Owner{})
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "x,y\n4,5\n2,1\n", string(data))

	// no temp residue
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStoreOverwrite(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "f")
	_, err := sink.Store(strings.NewReader("first"), dest, sink.Owner{})
	require.NoError(t, err)
	_, err = sink.Store(strings.NewReader("second"), dest, sink.Owner{})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.New(filepath.Join(dir, "f"), sink.Owner{})
	require.NoError(t, err)
	_, err = s.Write([]byte("partial"))
	require.NoError(t, err)
	s.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))
	dest := filepath.Join(dir, "shadow", "src")
	require.NoError(t, sink.CopyFile(src, dest, sink.Owner{}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func makeTar(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name: name, Typeflag: tar.TypeDir, Mode: 0o750,
			}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0o640, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestExtractTar(t *testing.T) {
	dir := t.TempDir()
	archive := makeTar(t, map[string]string{
		"totar3/":          "",
		"totar3/file1.txt": "file 1\n",
		"totar3/file2.txt": "file 2\n",
	})
	n, err := sink.ExtractTar(bytes.NewReader(archive), dir, sink.Owner{})
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)

	data, err := os.ReadFile(filepath.Join(dir, "totar3", "file1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file 1\n", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "totar3", "file2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "file 2\n", string(data))
}

func TestExtractTarRejectsSymlink(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "evil", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd",
	}))
	require.NoError(t, tw.Close())

	_, err := sink.ExtractTar(&buf, t.TempDir(), sink.Owner{})
	assert.IsType(t, errtypes.TransformError(""), err)
}

func TestExtractTarRejectsTraversal(t *testing.T) {
	archive := makeTar(t, map[string]string{"../escape": "x"})
	_, err := sink.ExtractTar(bytes.NewReader(archive), t.TempDir(), sink.Owner{})
	assert.IsType(t, errtypes.InvalidPath(""), err)
}

func TestExtractTarRemovesPartialOutput(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "sub/", Typeflag: tar.TypeDir, Mode: 0o750,
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "sub/kept.txt", Typeflag: tar.TypeReg, Mode: 0o640, Size: 4,
	}))
	_, err := tw.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, tw.Flush())
	// garbage after a complete entry breaks the archive mid-stream
	buf.Write(bytes.Repeat([]byte{'x'}, 512))

	dir := t.TempDir()
	_, err = sink.ExtractTar(&buf, dir, sink.Owner{})
	assert.IsType(t, errtypes.TransformError(""), err)

	// the committed entry and its directory are gone again
	_, err = os.Stat(filepath.Join(dir, "sub", "kept.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "sub"))
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractTarMalformed(t *testing.T) {
	_, err := sink.ExtractTar(strings.NewReader("not a tar archive at all, but long enough to look like one"), t.TempDir(), sink.Owner{})
	assert.IsType(t, errtypes.TransformError(""), err)
}
