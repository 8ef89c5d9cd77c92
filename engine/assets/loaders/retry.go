package loaders

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

/**
 * @brief RetryLoader retries the load stage of the wrapped loader with an
 * exponential backoff. Missing files and cancellation are not retried.
 * Decompress and Download are passed through.
 */
type RetryLoader struct {
	resources.Loader
	MaxRetries      uint64
	InitialInterval time.Duration
}

func WithRetry(l resources.Loader, maxRetries uint64) *RetryLoader {
	return &RetryLoader{
		Loader:          l,
		MaxRetries:      maxRetries,
		InitialInterval: 50 * time.Millisecond,
	}
}

func (rl *RetryLoader) Load(ctx context.Context, desc resources.Descriptor) ([]byte, error) {
	var data []byte
	operation := func() error {
		var err error
		data, err = rl.Loader.Load(ctx, desc)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	if rl.InitialInterval > 0 {
		bo.InitialInterval = rl.InitialInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, rl.MaxRetries), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		core.LogWarn("loading %s failed, retrying in %s: %v", desc, next, err)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
