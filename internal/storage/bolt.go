// Package storage persists campaigns in a BoltDB file.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/phishdrill/internal/campaign"
)

var (
	bucketApp   = []byte("app")
	bucketOwner = []byte("owner")
	bucketIndex = []byte("index")
)

// DefaultAppID is the tenancy namespace used when none is configured
const DefaultAppID = "default-app-id"

// BoltStore implements campaign.Store. Documents live at
// app/<appID>/owner/<ownerID>/<campaignID>, with app/<appID>/index mapping
// campaign ids to owners for public event routing.
type BoltStore struct {
	db    *bolt.DB
	appID []byte
}

// NewBoltStore opens or creates the database file
func NewBoltStore(path, appID string) (*BoltStore, error) {
	if appID == "" {
		appID = DefaultAppID
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BoltStore{db: db, appID: []byte(appID)}

	err = db.Update(func(tx *bolt.Tx) error {
		app, err := s.appBucket(tx, true)
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketOwner, bucketIndex} {
			if _, err := app.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// DB returns the underlying database for components that share the file
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is open and readable
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := s.appBucket(tx, false); err != nil {
			return err
		}
		return nil
	})
	return unavailable(err)
}

// Create stores a new campaign and its index entry
func (s *BoltStore) Create(ctx context.Context, c *campaign.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" || c.OwnerID == "" {
		return fmt.Errorf("%w: campaign id and owner are required", campaign.ErrInvalidInput)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}

	var exists bool
	err = s.db.Update(func(tx *bolt.Tx) error {
		app, err := s.appBucket(tx, false)
		if err != nil {
			return err
		}
		index := app.Bucket(bucketIndex)
		if index.Get([]byte(c.ID)) != nil {
			exists = true
			return nil
		}

		owner, err := app.Bucket(bucketOwner).CreateBucketIfNotExists([]byte(c.OwnerID))
		if err != nil {
			return fmt.Errorf("failed to create owner bucket: %w", err)
		}
		if err := owner.Put([]byte(c.ID), data); err != nil {
			return fmt.Errorf("failed to store campaign: %w", err)
		}
		if err := index.Put([]byte(c.ID), []byte(c.OwnerID)); err != nil {
			return fmt.Errorf("failed to index campaign: %w", err)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if exists {
		return fmt.Errorf("%w: campaign %s already exists", campaign.ErrInvalidInput, c.ID)
	}
	return nil
}

// Get returns the owner's campaign
func (s *BoltStore) Get(ctx context.Context, ownerID, id string) (*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c *campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		owner, err := s.ownerBucket(tx, ownerID)
		if err != nil {
			return err
		}
		if owner == nil {
			return campaign.ErrNotFound
		}
		c, err = decode(owner.Get([]byte(id)))
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return c, nil
}

// Locate returns the owner of a campaign id
func (s *BoltStore) Locate(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var ownerID string
	err := s.db.View(func(tx *bolt.Tx) error {
		app, err := s.appBucket(tx, false)
		if err != nil {
			return err
		}
		v := app.Bucket(bucketIndex).Get([]byte(id))
		if v == nil {
			return campaign.ErrNotFound
		}
		ownerID = string(v)
		return nil
	})
	if err != nil {
		return "", unavailable(err)
	}
	return ownerID, nil
}

// List returns the owner's campaigns ordered by creation time, newest first
func (s *BoltStore) List(ctx context.Context, ownerID string, filter campaign.ListFilter) ([]*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		owner, err := s.ownerBucket(tx, ownerID)
		if err != nil || owner == nil {
			return err
		}
		return owner.ForEach(func(k, v []byte) error {
			c, err := decode(v)
			if err != nil {
				return err
			}
			if filter.Status != "" && c.Status != filter.Status {
				return nil
			}
			result = append(result, c)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable(err)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*campaign.Campaign{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Mutate runs fn inside a single write transaction. Bolt serializes writers,
// so concurrent mutations never lose updates and ErrConflict is never returned.
func (s *BoltStore) Mutate(ctx context.Context, ownerID, id string, fn campaign.MutateFunc) (*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		c     *campaign.Campaign
		fnErr error
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		owner, err := s.ownerBucket(tx, ownerID)
		if err != nil {
			return err
		}
		if owner == nil {
			return campaign.ErrNotFound
		}

		c, err = decode(owner.Get([]byte(id)))
		if err != nil {
			return err
		}
		if fnErr = fn(c); fnErr != nil {
			return fnErr
		}

		c.ID = id
		c.OwnerID = ownerID
		c.Version++
		c.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		if err := owner.Put([]byte(id), data); err != nil {
			return fmt.Errorf("failed to store campaign: %w", err)
		}
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return c, nil
}

// Delete removes the owner's campaign and its index entry
func (s *BoltStore) Delete(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		owner, err := s.ownerBucket(tx, ownerID)
		if err != nil {
			return err
		}
		if owner == nil || owner.Get([]byte(id)) == nil {
			return campaign.ErrNotFound
		}
		if err := owner.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete campaign: %w", err)
		}

		app, _ := s.appBucket(tx, false)
		if err := app.Bucket(bucketIndex).Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete index entry: %w", err)
		}
		return nil
	})
	return unavailable(err)
}

// Stats is a point-in-time view of the database
type Stats struct {
	Campaigns int
	Owners    int
	SizeBytes int64
}

// Stats counts stored campaigns and reports the file size
func (s *BoltStore) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		st.SizeBytes = tx.Size()
		app, err := s.appBucket(tx, false)
		if err != nil {
			return err
		}
		st.Campaigns = app.Bucket(bucketIndex).Stats().KeyN
		return app.Bucket(bucketOwner).ForEachBucket(func(k []byte) error {
			st.Owners++
			return nil
		})
	})
	return st, err
}

func (s *BoltStore) appBucket(tx *bolt.Tx, create bool) (*bolt.Bucket, error) {
	if create {
		root, err := tx.CreateBucketIfNotExists(bucketApp)
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucketApp, err)
		}
		app, err := root.CreateBucketIfNotExists(s.appID)
		if err != nil {
			return nil, fmt.Errorf("failed to create app bucket: %w", err)
		}
		return app, nil
	}

	root := tx.Bucket(bucketApp)
	if root == nil {
		return nil, fmt.Errorf("bucket %s missing", bucketApp)
	}
	app := root.Bucket(s.appID)
	if app == nil {
		return nil, fmt.Errorf("app bucket %s missing", s.appID)
	}
	return app, nil
}

// ownerBucket returns nil without error when the owner has no campaigns yet
func (s *BoltStore) ownerBucket(tx *bolt.Tx, ownerID string) (*bolt.Bucket, error) {
	if ownerID == "" {
		return nil, nil
	}
	app, err := s.appBucket(tx, false)
	if err != nil {
		return nil, err
	}
	return app.Bucket(bucketOwner).Bucket([]byte(ownerID)), nil
}

func decode(data []byte) (*campaign.Campaign, error) {
	if data == nil {
		return nil, campaign.ErrNotFound
	}
	var c campaign.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign: %w", err)
	}
	// Clone also replaces null detail maps with empty ones
	c.Results = c.Results.Clone()
	return &c, nil
}

// unavailable tags database-level failures so callers can map them to 503,
// leaving domain errors untouched
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, campaign.ErrNotFound) || errors.Is(err, campaign.ErrInvalidInput) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", campaign.ErrUnavailable, err)
}
