package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const scanBucketName = "scans"

// ScanRecord remembers one completed scan, keyed by the image's SHA-256.
// It lets a re-scan of the same photo be detected before OCR runs.
type ScanRecord struct {
	ImageSHA256   string    `json:"image_sha256"`
	DraftPath     string    `json:"draft_path"`
	ImageFilename string    `json:"image_filename"`
	Merchant      string    `json:"merchant"`
	Total         string    `json:"total"`
	ScannedAt     time.Time `json:"scanned_at"`
}

// Index defines the interface for the scan deduplication index
type Index interface {
	// SaveScan records a completed scan
	SaveScan(record *ScanRecord) error

	// GetScan retrieves a scan record by image SHA-256, nil when absent
	GetScan(imageSHA256 string) (*ScanRecord, error)

	// ListScans returns all scan records
	ListScans() ([]*ScanRecord, error)

	// DeleteScan removes a scan record
	DeleteScan(imageSHA256 string) error

	// Close closes the index
	Close() error
}

// BoltIndex implements the Index interface using BoltDB
type BoltIndex struct {
	db *bbolt.DB
}

// NewBoltIndex opens (or creates) the scan index at path.
func NewBoltIndex(path string) (*BoltIndex, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(scanBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltIndex{db: db}, nil
}

// SaveScan records a completed scan
func (b *BoltIndex) SaveScan(record *ScanRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling scan record: %w", err)
		}
		return bucket.Put([]byte(record.ImageSHA256), data)
	})
}

// GetScan retrieves a scan record by image SHA-256. Returns nil without
// error when the image has not been scanned before.
func (b *BoltIndex) GetScan(imageSHA256 string) (*ScanRecord, error) {
	var record *ScanRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		data := bucket.Get([]byte(imageSHA256))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListScans returns all scan records
func (b *BoltIndex) ListScans() ([]*ScanRecord, error) {
	records := make([]*ScanRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record ScanRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling scan record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteScan removes a scan record
func (b *BoltIndex) DeleteScan(imageSHA256 string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		return bucket.Delete([]byte(imageSHA256))
	})
}

// Close closes the index
func (b *BoltIndex) Close() error {
	return b.db.Close()
}
