package smile

import (
	"context"
	"errors"
	"fmt"

	"github.com/bcdannyboy/volsmile/cache"
	"github.com/sirupsen/logrus"
)

const DefaultTemplateKey = "template:default"

func TemplateKey(symbol string) string { return "template:" + symbol }

// TemplateStore loads templates from a cache store. A symbol without its own
// template falls back to the default one, which is seeded on first use
// unless the store runs unattended.
type TemplateStore struct {
	store      cache.Store
	unattended bool
	logger     *logrus.Logger
}

func NewTemplateStore(store cache.Store, unattended bool, logger *logrus.Logger) *TemplateStore {
	if logger == nil {
		logger = newLogger()
	}
	return &TemplateStore{store: store, unattended: unattended, logger: logger}
}

// Get returns the template for symbol. Unattended stores fail with
// ErrMissingTemplate rather than seed the default.
func (ts *TemplateStore) Get(ctx context.Context, symbol string) (*Template, error) {
	var t Template
	err := ts.store.Load(ctx, TemplateKey(symbol), &t)
	switch {
	case err == nil:
		return ts.ready(&t, TemplateKey(symbol))
	case !errors.Is(err, cache.ErrNotFound):
		return nil, err
	}

	if ts.unattended {
		err := ts.store.Load(ctx, DefaultTemplateKey, &t)
		if errors.Is(err, cache.ErrNotFound) {
			ts.logger.WithField("symbol", symbol).Error("No cached template in unattended mode")
			return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, symbol)
		}
		if err != nil {
			return nil, err
		}
		return ts.ready(&t, DefaultTemplateKey)
	}

	err = ts.store.GetOrInit(ctx, DefaultTemplateKey, &t, func() (any, error) {
		ts.logger.WithField("key", DefaultTemplateKey).Info("Seeding default smile template")
		return DefaultTemplate(), nil
	})
	if err != nil {
		return nil, err
	}
	return ts.ready(&t, DefaultTemplateKey)
}

func (ts *TemplateStore) ready(t *Template, key string) (*Template, error) {
	if err := t.init(); err != nil {
		ts.logger.WithFields(logrus.Fields{
			"key":   key,
			"knots": len(t.X),
		}).WithError(err).Warn("Cached template is unusable")
		return nil, err
	}
	return t, nil
}

func (ts *TemplateStore) Save(ctx context.Context, symbol string, t *Template) error {
	return ts.store.Save(ctx, TemplateKey(symbol), t)
}
