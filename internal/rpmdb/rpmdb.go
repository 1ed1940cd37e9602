// Package rpmdb is a directory-backed reference collaborator standing in
// for the out-of-scope real installed-package database (spec §1). It
// implements sack.FileListSource by walking a tree laid out as
// <root>/<nevra>/<relative file path...>, using github.com/karrick/godirwalk
// for fast, allocation-light traversal the way the teacher would scan a
// local vendor tree.
package rpmdb

import (
	"path/filepath"
	"strings"

	godirwalk "github.com/karrick/godirwalk"
	"github.com/james-antill/yum/rpmpkg"
)

// DB is a directory-backed installed-package file manifest source.
type DB struct {
	root string
}

// Open returns a DB rooted at dir. The directory need not exist yet; a
// missing root simply yields no files.
func Open(dir string) *DB {
	return &DB{root: dir}
}

// PopulateFiles implements sack.FileListSource: it walks the whole tree
// once and returns every package's file list keyed by NEVRA string. repoID
// is ignored since an installed-DB root is self-contained.
func (d *DB) PopulateFiles(repoID string) (map[string][]string, error) {
	out := make(map[string][]string)
	err := godirwalk.Walk(d.root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname == d.root {
				return nil
			}
			rel, err := filepath.Rel(d.root, osPathname)
			if err != nil {
				return err
			}
			parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
			if len(parts) < 2 || de.IsDir() {
				return nil
			}
			nevra := parts[0]
			out[nevra] = append(out[nevra], "/"+parts[1])
			return nil
		},
	})
	return out, err
}

// NEVRADirName formats n the way this package names a package's directory:
// name-epoch:version-release.arch, matching rpmpkg.NEVRA.String() for
// epoch "0" collapsed by evr.EVR.Norm upstream.
func NEVRADirName(n rpmpkg.NEVRA) string {
	return n.String()
}
