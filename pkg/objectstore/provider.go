package objectstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/fabric"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/provider"
)

// Provider hosts the object store: disk buckets under the data
// directory, a notification dispatcher, and a URL signer.
type Provider struct {
	dataDir    string
	buckets    []config.BucketDef
	signingKey string
	baseURL    string

	store      *Store
	dispatcher *fabric.NotificationDispatcher
	signer     *Signer
	reg        *provider.Registry
	logger     zerolog.Logger
}

// NewProvider builds the provider; the store opens at Start.
func NewProvider(dataDir string, buckets []config.BucketDef, signingKey, baseURL string, reg *provider.Registry) *Provider {
	return &Provider{
		dataDir:    dataDir,
		buckets:    buckets,
		signingKey: signingKey,
		baseURL:    baseURL,
		reg:        reg,
		logger:     log.WithService(provider.ServiceObjectStore),
	}
}

// Store exposes the underlying disk store. Nil before Start.
func (p *Provider) Store() *Store { return p.store }

// Signer exposes the presigned-URL signer. Nil before Start.
func (p *Provider) Signer() *Signer { return p.signer }

// Dispatcher exposes the notification dispatcher for wiring handlers.
func (p *Provider) Dispatcher() *fabric.NotificationDispatcher { return p.dispatcher }

func (p *Provider) Service() string { return provider.ServiceObjectStore }

// Start creates modelled buckets and arms the dispatcher. Notification
// handlers are bound at PostWire, once compute is running.
func (p *Provider) Start(ctx context.Context) error {
	p.dispatcher = fabric.NewNotificationDispatcher()
	p.dispatcher.Start()

	store, err := NewStore(filepath.Join(p.dataDir, "s3"), p.dispatcher)
	if err != nil {
		return err
	}
	p.store = store
	p.signer = NewSigner(p.signingKey, p.baseURL)

	for _, def := range p.buckets {
		if err := store.CreateBucket(def.Name); err != nil && !store.BucketExists(def.Name) {
			return err
		}
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: def.Name},
			provider.Attributes{ID: provider.ARN(p.Service(), def.Name)},
		)
	}
	p.logger.Info().Int("buckets", len(p.buckets)).Msg("object store ready")
	return nil
}

// PostWire binds modelled notifications to their compute functions.
func (p *Provider) PostWire(reg *provider.Registry) error {
	invoker, ok := reg.Provider(provider.ServiceCompute).(provider.Invoker)
	if !ok {
		if p.notificationsModelled() {
			return fmt.Errorf("bucket notifications need the compute provider")
		}
		return nil
	}

	for _, bucket := range p.buckets {
		for _, n := range bucket.Notifications {
			binding := fabric.NotificationBinding{
				Bucket:    bucket.Name,
				EventGlob: n.Events,
				Prefix:    n.Prefix,
				Suffix:    n.Suffix,
				Handler:   notificationHandler(invoker, n.Function),
			}
			p.dispatcher.Register(binding)
			p.logger.Debug().
				Str("bucket", bucket.Name).
				Str("events", n.Events).
				Str("function", n.Function).
				Msg("notification bound")
		}
	}
	return nil
}

func (p *Provider) notificationsModelled() bool {
	for _, b := range p.buckets {
		if len(b.Notifications) > 0 {
			return true
		}
	}
	return false
}

// Stop drains in-flight notifications.
func (p *Provider) Stop(ctx context.Context) error {
	if p.dispatcher != nil {
		p.dispatcher.Stop()
	}
	return nil
}

// Healthy verifies the data directory is reachable.
func (p *Provider) Healthy(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("object store not started")
	}
	_, err := p.store.ListBuckets()
	return err
}

// Reset empties every bucket but keeps the buckets themselves.
func (p *Provider) Reset(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	buckets, err := p.store.ListBuckets()
	if err != nil {
		return err
	}
	for _, b := range buckets {
		if err := p.store.DeleteBucket(b, true); err != nil {
			return err
		}
		if err := p.store.CreateBucket(b); err != nil {
			return err
		}
	}
	return nil
}
