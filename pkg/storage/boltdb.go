package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketChainResults = []byte("chain_results")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB file under
// dataDir and ensures its bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "warren-sched.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChainResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucketChainResults, err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveChainResult upserts result under its chain id.
func (s *BoltStore) SaveChainResult(result *ChainResult) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChainResults)
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put([]byte(result.ChainID), data)
	})
}

// GetChainResult looks up a chain's result by id.
func (s *BoltStore) GetChainResult(chainID string) (*ChainResult, error) {
	var result ChainResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChainResults)
		data := b.Get([]byte(chainID))
		if data == nil {
			return fmt.Errorf("chain result not found: %s", chainID)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListChainResults returns every stored chain result.
func (s *BoltStore) ListChainResults() ([]*ChainResult, error) {
	var results []*ChainResult
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChainResults)
		return b.ForEach(func(k, v []byte) error {
			var result ChainResult
			if err := json.Unmarshal(v, &result); err != nil {
				return err
			}
			results = append(results, &result)
			return nil
		})
	})
	return results, err
}

// DeleteChainResult removes a chain's stored result, if any.
func (s *BoltStore) DeleteChainResult(chainID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChainResults)
		return b.Delete([]byte(chainID))
	})
}
