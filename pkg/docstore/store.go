package docstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/fabric"
	"github.com/burrowdev/burrow/pkg/log"
)

var metaBucket = []byte("_meta")

func tableBucket(table string) []byte {
	return []byte("table:" + table)
}

func indexBucket(table, index string) []byte {
	return []byte("index:" + table + ":" + index)
}

// Store is one document database: a single bbolt file holding any number
// of tables, each with a primary index and optional GSIs, plus schema
// metadata so tables survive restarts.
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger

	mu      sync.RWMutex
	schemas map[string]*TableSchema
	streams map[string]*fabric.StreamDispatcher
}

// Open opens (or creates) the database file, creating parent directories
// as needed, and loads persisted table schemas.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		logger:  log.WithService("dynamodb"),
		schemas: map[string]*TableSchema{},
		streams: map[string]*fabric.StreamDispatcher{},
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return meta.ForEach(func(k, v []byte) error {
			var schema TableSchema
			if err := json.Unmarshal(v, &schema); err != nil {
				return fmt.Errorf("corrupt schema for table %s: %w", k, err)
			}
			s.schemas[schema.Name] = &schema
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	for name, schema := range s.schemas {
		if schema.Stream != nil {
			s.streams[name] = s.newDispatcher(schema)
		}
	}
	return s, nil
}

func (s *Store) newDispatcher(schema *TableSchema) *fabric.StreamDispatcher {
	window := time.Duration(schema.Stream.WindowMS) * time.Millisecond
	d := fabric.NewStreamDispatcher(schema.Name, schema.Stream.ViewType, schema.KeyAttrNames(), window)
	d.Start()
	return d
}

// Close stops every stream dispatcher and closes the file.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, d := range s.streams {
		d.Stop()
	}
	s.streams = map[string]*fabric.StreamDispatcher{}
	s.mu.Unlock()
	return s.db.Close()
}

// Stream returns the change-stream dispatcher for a table, if the table
// has a stream enabled.
func (s *Store) Stream(table string) (*fabric.StreamDispatcher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.streams[table]
	return d, ok
}

// CreateTable registers a new table and its buckets.
func (s *Store) CreateTable(schema TableSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schemas[schema.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTableExists, schema.Name)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(tableBucket(schema.Name)); err != nil {
			return err
		}
		for _, g := range schema.GSIs {
			if _, err := tx.CreateBucketIfNotExists(indexBucket(schema.Name, g.Name)); err != nil {
				return err
			}
		}
		raw, err := json.Marshal(&schema)
		if err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte(schema.Name), raw)
	})
	if err != nil {
		return fmt.Errorf("creating table %s: %w", schema.Name, err)
	}

	s.schemas[schema.Name] = &schema
	if schema.Stream != nil {
		s.streams[schema.Name] = s.newDispatcher(&schema)
	}
	s.logger.Info().Str("table", schema.Name).Int("gsis", len(schema.GSIs)).Msg("table created")
	return nil
}

// DeleteTable removes the table, its indexes, and its schema.
func (s *Store) DeleteTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, ok := s.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(tableBucket(name)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		for _, g := range schema.GSIs {
			if err := tx.DeleteBucket(indexBucket(name, g.Name)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		return tx.Bucket(metaBucket).Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("deleting table %s: %w", name, err)
	}

	if d, ok := s.streams[name]; ok {
		d.Stop()
		delete(s.streams, name)
	}
	delete(s.schemas, name)
	s.logger.Info().Str("table", name).Msg("table deleted")
	return nil
}

// DescribeTable returns a table's schema.
func (s *Store) DescribeTable(name string) (*TableSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return schema, nil
}

// ListTables returns table names in sorted order.
func (s *Store) ListTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.schemas))
	for name := range s.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Store) schema(name string) (*TableSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return schema, nil
}

// writeRow persists an item's base row and refreshes every GSI entry
// inside the caller's transaction. old may be nil.
func writeRow(tx *bolt.Tx, schema *TableSchema, rowKey []byte, item, old attr.Item) error {
	raw, err := attr.MarshalItem(item)
	if err != nil {
		return err
	}
	base := tx.Bucket(tableBucket(schema.Name))
	if base == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, schema.Name)
	}
	if err := base.Put(rowKey, raw); err != nil {
		return err
	}
	for _, g := range schema.GSIs {
		idx := tx.Bucket(indexBucket(schema.Name, g.Name))
		if idx == nil {
			continue
		}
		if old != nil {
			if oldKey, ok := indexKeyFromItem(old, g); ok {
				if err := idx.Delete(indexRowKey(oldKey, g, rowKey)); err != nil {
					return err
				}
			}
		}
		if newKey, ok := indexKeyFromItem(item, g); ok {
			if err := idx.Put(indexRowKey(newKey, g, rowKey), rowKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteRow removes an item's base row and all GSI entries inside the
// caller's transaction.
func deleteRow(tx *bolt.Tx, schema *TableSchema, rowKey []byte, old attr.Item) error {
	base := tx.Bucket(tableBucket(schema.Name))
	if base == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, schema.Name)
	}
	if err := base.Delete(rowKey); err != nil {
		return err
	}
	for _, g := range schema.GSIs {
		idx := tx.Bucket(indexBucket(schema.Name, g.Name))
		if idx == nil {
			continue
		}
		if oldKey, ok := indexKeyFromItem(old, g); ok {
			if err := idx.Delete(indexRowKey(oldKey, g, rowKey)); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexRowKey is the GSI entry key: the index composite key followed by
// the base-row key, so duplicate index keys stay distinct.
func indexRowKey(indexKey attr.Item, g GSISchema, baseRowKey []byte) []byte {
	out := encodeKey(indexKey, g.PartitionKey, g.SortKey)
	out = append(out, keySep)
	out = append(out, baseRowKey...)
	return out
}

// emitStream forwards one mutation to the table's dispatcher, if any.
func (s *Store) emitStream(table string, name fabric.StreamEventName, newImage, oldImage attr.Item) {
	s.mu.RLock()
	d, ok := s.streams[table]
	s.mu.RUnlock()
	if !ok {
		return
	}
	d.Emit(uuid.NewString(), name, newImage, oldImage, time.Now())
}
