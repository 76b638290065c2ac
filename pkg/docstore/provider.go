package docstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/fabric"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/provider"
)

// Provider hosts the document store: one database file under the data
// directory, tables created from the deployment model at start.
type Provider struct {
	dataDir string
	tables  []config.TableDef
	store   *Store
	reg     *provider.Registry
	logger  zerolog.Logger
}

// NewProvider builds the provider; the store opens at Start.
func NewProvider(dataDir string, tables []config.TableDef, reg *provider.Registry) *Provider {
	return &Provider{
		dataDir: dataDir,
		tables:  tables,
		reg:     reg,
		logger:  log.WithService(provider.ServiceDocStore),
	}
}

// Store exposes the underlying database. Nil before Start.
func (p *Provider) Store() *Store { return p.store }

func (p *Provider) Service() string { return provider.ServiceDocStore }

// Start opens the database and ensures every modelled table exists.
func (p *Provider) Start(ctx context.Context) error {
	path := filepath.Join(p.dataDir, "dynamodb", "default.db")
	store, err := Open(path)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	p.store = store

	for _, def := range p.tables {
		schema, err := schemaFromDef(def)
		if err != nil {
			return err
		}
		if err := store.CreateTable(schema); err != nil && !errors.Is(err, ErrTableExists) {
			return err
		}
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: def.Name},
			provider.Attributes{ID: provider.ARN(p.Service(), "table/"+def.Name)},
		)
	}
	p.logger.Info().Int("tables", len(p.tables)).Str("path", path).Msg("document store ready")
	return nil
}

// Stop flushes streams and closes the database file.
func (p *Provider) Stop(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}

// Healthy verifies the database file is open and answering.
func (p *Provider) Healthy(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("document store not started")
	}
	p.store.ListTables()
	return nil
}

// Reset drops and recreates every table.
func (p *Provider) Reset(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	for _, name := range p.store.ListTables() {
		schema, err := p.store.DescribeTable(name)
		if err != nil {
			return err
		}
		keep := *schema
		if err := p.store.DeleteTable(name); err != nil {
			return err
		}
		if err := p.store.CreateTable(keep); err != nil {
			return err
		}
	}
	return nil
}

func schemaFromDef(def config.TableDef) (TableSchema, error) {
	schema := TableSchema{
		Name:         def.Name,
		PartitionKey: KeyAttr{Name: def.PartitionKey.Name, Type: attr.Type(def.PartitionKey.Type)},
	}
	if def.SortKey != nil {
		schema.SortKey = &KeyAttr{Name: def.SortKey.Name, Type: attr.Type(def.SortKey.Type)}
	}
	for _, g := range def.GSIs {
		gs := GSISchema{
			Name:         g.Name,
			PartitionKey: KeyAttr{Name: g.PartitionKey.Name, Type: attr.Type(g.PartitionKey.Type)},
		}
		if g.SortKey != nil {
			gs.SortKey = &KeyAttr{Name: g.SortKey.Name, Type: attr.Type(g.SortKey.Type)}
		}
		schema.GSIs = append(schema.GSIs, gs)
	}
	if def.Stream != nil {
		view, err := viewTypeFromModel(def.Stream.View)
		if err != nil {
			return TableSchema{}, err
		}
		schema.Stream = &StreamSchema{ViewType: view, WindowMS: 100}
	}
	return schema, nil
}

func viewTypeFromModel(view string) (fabric.StreamViewType, error) {
	switch view {
	case "keys-only":
		return fabric.ViewKeysOnly, nil
	case "new-image":
		return fabric.ViewNewImage, nil
	case "old-image":
		return fabric.ViewOldImage, nil
	case "new-and-old":
		return fabric.ViewNewAndOld, nil
	}
	return "", fmt.Errorf("unknown stream view %q", view)
}
