// Copyright © 2024 Genome Research Limited
//
//  This file is part of qcpipe.
//
//  qcpipe is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  qcpipe is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with qcpipe. If not, see <http://www.gnu.org/licenses/>.

package internal

// This file contains functions for creating files and directories with an
// explicitly supplied umask. The process umask is never changed; instead the
// requested permissions are masked and then applied with chmod, so the result
// doesn't depend on what directory we were started in or who started us.

import (
	"os"
	"path/filepath"

	"github.com/inconshreveable/log15/ext"
)

// MkdirAll creates dir and any missing parents with perm masked by umask.
// Directories that already exist are left alone.
func MkdirAll(dir string, perm, umask os.FileMode) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}

	parent := filepath.Dir(dir)
	if parent != dir {
		if err := MkdirAll(parent, perm, umask); err != nil {
			return err
		}
	}

	err := os.Mkdir(dir, perm)
	if err != nil {
		if info, errs := os.Stat(dir); errs == nil && info.IsDir() {
			return nil
		}
		return err
	}
	return os.Chmod(dir, perm&^umask)
}

// CreateFile creates or truncates the file at path, opened for writing, with
// perm masked by umask.
func CreateFile(path string, perm, umask os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return nil, err
	}
	if err = f.Chmod(perm &^ umask); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// WriteFileAtomic writes data to a uniquely named temporary file in the same
// directory as path, then renames it to path, so that nothing ever sees a
// partially written file at path. The final permissions are perm masked by
// umask.
func WriteFileAtomic(path string, data []byte, perm, umask os.FileMode) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp."+ext.RandId(8))
	f, err := CreateFile(tmp, perm, umask)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if errc := f.Close(); err == nil {
		err = errc
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
