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

package pipeline

// This file contains the history database: a record of every batch that has
// been run, so past runs can be reviewed.

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/VertebrateResequencing/qcpipe/internal"
	"github.com/ugorji/go/codec"
	bolt "go.etcd.io/bbolt"
)

const (
	dbPerms       = 0600
	dirPerms      = 0777
	dbOpenTimeout = 10 * time.Second
)

var bucketBatches = []byte("batches")

// Store is a history database of batch Records.
type Store struct {
	bolt *bolt.DB
	ch   codec.Handle
}

// OpenStore opens or creates the history database at the given path, creating
// its directory if necessary. Only one process can have the database open at
// once; others wait for a while and then get an error.
func OpenStore(path string, umask os.FileMode) (*Store, error) {
	if err := internal.MkdirAll(filepath.Dir(path), dirPerms, umask); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, dbPerms, &bolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("could not open history database %s: %s", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, errc := tx.CreateBucketIfNotExists(bucketBatches)
		if errc != nil {
			return fmt.Errorf("create bucket %s: %s", bucketBatches, errc)
		}
		return nil
	})
	if err != nil {
		if errc := db.Close(); errc != nil {
			err = fmt.Errorf("%s (and closing failed: %s)", err, errc)
		}
		return nil, err
	}

	return &Store{bolt: db, ch: new(codec.BincHandle)}, nil
}

// recordKey sorts records by start time.
func recordKey(r *Record) []byte {
	return []byte(r.Started.UTC().Format("20060102T150405.000000000") + "_" + r.ID)
}

// Save stores a Record.
func (s *Store) Save(r *Record) error {
	var encoded []byte
	enc := codec.NewEncoderBytes(&encoded, s.ch)
	if err := enc.Encode(r); err != nil {
		return err
	}

	return s.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBatches).Put(recordKey(r), encoded)
	})
}

// Recent returns up to n of the most recently started batches, most recent
// first. n <= 0 means all of them.
func (s *Store) Recent(n int) ([]*Record, error) {
	var records []*Record
	err := s.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBatches).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			r := new(Record)
			dec := codec.NewDecoderBytes(v, s.ch)
			if err := dec.Decode(r); err != nil {
				return fmt.Errorf("could not decode history record %s: %s", k, err)
			}
			records = append(records, r)
			if n > 0 && len(records) == n {
				break
			}
		}
		return nil
	})
	return records, err
}

// Get returns the Record for the batch with the given ID, or nil if there
// isn't one.
func (s *Store) Get(id string) (*Record, error) {
	records, err := s.Recent(0)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.bolt.Close()
}
