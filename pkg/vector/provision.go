package vector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// provisioner makes sure the configured collection exists with the
// expected dimensionality. Concurrent callers share one attempt and a
// success is remembered; failures are retried on the next call.
type provisioner struct {
	sess       *Session
	want       Collection
	autoCreate bool

	group singleflight.Group
	ready atomic.Bool
}

func newProvisioner(sess *Session) *provisioner {
	cfg := sess.Config()
	return &provisioner{
		sess:       sess,
		want:       cfg.Collection(),
		autoCreate: cfg.AutoCreate(),
	}
}

func (p *provisioner) ensure(ctx context.Context) error {
	if p.ready.Load() {
		return nil
	}
	// 共享的一次尝试不应被某个调用方的取消中断
	shared := context.WithoutCancel(ctx)
	_, err, _ := p.group.Do(p.want.Name, func() (any, error) {
		if p.ready.Load() {
			return nil, nil
		}
		if err := p.provision(shared); err != nil {
			return nil, err
		}
		p.ready.Store(true)
		return nil, nil
	})
	return err
}

func (p *provisioner) provision(ctx context.Context) error {
	backend := p.sess.Backend()

	var existing *Collection
	err := p.sess.call(ctx, "describe_collection", func(ctx context.Context) error {
		var err error
		existing, err = backend.DescribeCollection(ctx, p.want.Name)
		return err
	})
	switch {
	case err == nil:
		if err := p.check(existing); err != nil {
			ProvisioningTotal.WithLabelValues("error").Inc()
			return err
		}
		ProvisioningTotal.WithLabelValues("existing").Inc()
		return nil
	case errors.Is(err, ErrCollectionNotFound):
	default:
		ProvisioningTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: describe %q: %w", ErrProvisioning, p.want.Name, err)
	}

	if !p.autoCreate {
		ProvisioningTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %q does not exist and auto_create_index is disabled", ErrCollectionNotFound, p.want.Name)
	}

	err = p.sess.call(ctx, "create_collection", func(ctx context.Context) error {
		return backend.CreateCollection(ctx, p.want)
	})
	switch {
	case err == nil:
		ProvisioningTotal.WithLabelValues("created").Inc()
		p.sess.logger.Info("collection created",
			"collection", p.want.Name,
			"dims", p.want.Dims,
			"metric", p.want.Metric,
		)
		return nil
	case errors.Is(err, ErrCollectionExists):
		// 并发创建：以已存在的集合为准，再校验一次维度
		err = p.sess.call(ctx, "describe_collection", func(ctx context.Context) error {
			var err error
			existing, err = backend.DescribeCollection(ctx, p.want.Name)
			return err
		})
		if err != nil {
			ProvisioningTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("%w: describe %q: %w", ErrProvisioning, p.want.Name, err)
		}
		if err := p.check(existing); err != nil {
			ProvisioningTotal.WithLabelValues("error").Inc()
			return err
		}
		ProvisioningTotal.WithLabelValues("existing").Inc()
		return nil
	default:
		ProvisioningTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: create %q: %w", ErrProvisioning, p.want.Name, err)
	}
}

func (p *provisioner) check(existing *Collection) error {
	if existing.Dims != p.want.Dims {
		return &DimensionMismatchError{
			Collection: p.want.Name,
			Expected:   p.want.Dims,
			Actual:     existing.Dims,
		}
	}
	if existing.Metric != "" && existing.Metric != p.want.Metric {
		p.sess.logger.Warn("collection metric differs from config",
			"collection", p.want.Name,
			"configured", p.want.Metric,
			"actual", existing.Metric,
		)
	}
	return nil
}
