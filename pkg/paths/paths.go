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

// Package paths maps (project, group, key id, form id, filename) to
// validated absolute destination paths. Resolution is string
// validation first; destinations that already exist on disk are
// additionally checked with their symlinks resolved, so a link planted
// inside a project root cannot redirect writes or reads outside it.
package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/unioslo/tsd-file-api/pkg/errtypes"
)

var (
	pnumRegex     = regexp.MustCompile(`^p[0-9]+$`)
	groupRegex    = regexp.MustCompile(`^p[0-9]+-[a-z0-9-]+-group$`)
	keyIDRegex    = regexp.MustCompile(`^[A-F0-9]{16}$`)
	formIDRegex   = regexp.MustCompile(`^[0-9]+$`)
	filenameRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._+@= -]*$`)
)

// ValidPnum reports whether pnum is a well-formed project number.
func ValidPnum(pnum string) bool {
	return pnumRegex.MatchString(pnum)
}

// ValidGroup reports whether group is a well-formed group of project
// pnum.
func ValidGroup(pnum, group string) bool {
	return groupRegex.MatchString(group) && strings.HasPrefix(group, pnum+"-")
}

// SanitizeFilename validates a client-supplied filename against a
// conservative whitelist. Trailing slashes are stripped; anything with
// path separators, parent references or shell metacharacters is
// rejected.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimRight(name, "/")
	if name == "" {
		return "", errtypes.MissingFilename("empty filename")
	}
	if strings.Contains(name, "..") {
		return "", errtypes.InvalidPath("filename contains a parent reference")
	}
	if !filenameRegex.MatchString(name) {
		return "", errtypes.InvalidPath("filename contains illegal characters")
	}
	return filepath.Base(name), nil
}

// Dest describes a resolved upload destination.
type Dest struct {
	// Dir is the directory the file lands in.
	Dir string
	// Filename is the sanitized basename.
	Filename string
}

// Path returns the full destination path.
func (d Dest) Path() string {
	return filepath.Join(d.Dir, d.Filename)
}

// Resolver resolves destination paths from the configured per-project
// roots.
type Resolver struct {
	uploads map[string]string
	sns     string
	export  map[string]string
}

// NewResolver returns a Resolver over the configured roots.
func NewResolver(uploads map[string]string, snsRoot string, export map[string]string) *Resolver {
	return &Resolver{uploads: uploads, sns: snsRoot, export: export}
}

// UploadsRoot returns the uploads root of pnum, or an error if the
// project is not configured.
func (r *Resolver) UploadsRoot(pnum string) (string, error) {
	if !ValidPnum(pnum) {
		return "", errtypes.InvalidPath(pnum + " is not a valid project number")
	}
	root, ok := r.uploads[pnum]
	if !ok {
		return "", errtypes.InvalidPath(pnum + " has no uploads directory configured")
	}
	return root, nil
}

// Upload resolves the streamed-upload destination
// <uploads_root[pnum]>/<group>/<filename>. The group must already be
// authorized; an empty group defaults to the project member group.
func (r *Resolver) Upload(pnum, group, filename string) (Dest, error) {
	root, err := r.UploadsRoot(pnum)
	if err != nil {
		return Dest{}, err
	}
	if group == "" {
		group = pnum + "-member-group"
	}
	if !ValidGroup(pnum, group) {
		return Dest{}, errtypes.InvalidPath(group + " is not a valid group of " + pnum)
	}
	name, err := SanitizeFilename(filename)
	if err != nil {
		return Dest{}, err
	}
	return confined(root, Dest{Dir: filepath.Join(root, group), Filename: name})
}

// FormUpload resolves the form-data destination
// <uploads_root[pnum]>/<filename>.
func (r *Resolver) FormUpload(pnum, filename string) (Dest, error) {
	root, err := r.UploadsRoot(pnum)
	if err != nil {
		return Dest{}, err
	}
	name, err := SanitizeFilename(filename)
	if err != nil {
		return Dest{}, err
	}
	return confined(root, Dest{Dir: root, Filename: name})
}

// SNS resolves the nettskjema-submissions directory for (pnum, keyID,
// formID) together with its hidden .tsd shadow. Key ids are exact
// 16-char uppercase hex; mixed case is rejected, not normalized.
func (r *Resolver) SNS(pnum, keyID, formID string) (dir, shadow string, err error) {
	if r.sns == "" {
		return "", "", errtypes.InvalidSnsParam("sns uploads are not configured")
	}
	if !ValidPnum(pnum) {
		return "", "", errtypes.InvalidSnsParam(pnum + " is not a valid project number")
	}
	if _, ok := r.uploads[pnum]; !ok {
		return "", "", errtypes.InvalidSnsParam(pnum + " is not configured")
	}
	if !keyIDRegex.MatchString(keyID) {
		return "", "", errtypes.InvalidSnsParam("malformed key id")
	}
	if !formIDRegex.MatchString(formID) {
		return "", "", errtypes.InvalidSnsParam("malformed form id")
	}
	dir = filepath.Join(r.sns, pnum, "nettskjema-submissions", keyID, formID)
	shadow = filepath.Join(r.sns, pnum, ".tsd", keyID, formID)
	return dir, shadow, nil
}

// Export resolves a file inside the project's export directory, or the
// directory itself when filename is empty. Traversal attempts fail
// with Forbidden.
func (r *Resolver) Export(pnum, filename string) (string, error) {
	root, ok := r.export[pnum]
	if !ok {
		return "", errtypes.Forbidden(pnum + " has no export directory configured")
	}
	if filename == "" {
		return root, nil
	}
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\!#$%^&*()~'`|;<>?\" ") {
		return "", errtypes.Forbidden("illegal export filename")
	}
	p := filepath.Join(root, filename)
	if !strings.HasPrefix(filepath.Clean(p), filepath.Clean(root)+string(filepath.Separator)) {
		return "", errtypes.Forbidden("export path escapes the export directory")
	}
	return p, nil
}

// confined verifies that the destination stays under root after
// normalization. When the destination directory already exists its
// symlinks are resolved too, so a planted link cannot redirect the
// write.
func confined(root string, d Dest) (Dest, error) {
	if !strings.HasPrefix(filepath.Clean(d.Path()), filepath.Clean(root)+string(filepath.Separator)) {
		return Dest{}, errtypes.InvalidPath("destination escapes the project root")
	}
	if _, err := os.Lstat(d.Dir); err != nil {
		return d, nil
	}
	realDir, err := filepath.EvalSymlinks(d.Dir)
	if err != nil {
		return Dest{}, errtypes.IOError(err.Error())
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return Dest{}, errtypes.IOError(err.Error())
	}
	if realDir != realRoot && !strings.HasPrefix(realDir, realRoot+string(filepath.Separator)) {
		return Dest{}, errtypes.InvalidPath("destination escapes the project root")
	}
	return d, nil
}

// ConfinedRealpath follows symlinks on p and verifies that the real
// path is still under root. The target must exist.
func ConfinedRealpath(root, p string) (string, error) {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", errtypes.IOError(err.Error())
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", errtypes.IOError(err.Error())
	}
	if real != realRoot && !strings.HasPrefix(real, realRoot+string(filepath.Separator)) {
		return "", errtypes.Forbidden("symlink escapes the project root")
	}
	return real, nil
}
