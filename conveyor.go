// Package conveyor wires the configured backends into a ready-to-run
// pipeline scheduler.
package conveyor

import (
	"context"
	"fmt"
	"log/slog"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/GoCodeAlone/conveyor/cache"
	"github.com/GoCodeAlone/conveyor/config"
	"github.com/GoCodeAlone/conveyor/deploy"
	"github.com/GoCodeAlone/conveyor/metrics"
	"github.com/GoCodeAlone/conveyor/pipeline"
	"github.com/GoCodeAlone/conveyor/promotion"
	"github.com/GoCodeAlone/conveyor/registry"
	"github.com/GoCodeAlone/conveyor/runner"
	"github.com/GoCodeAlone/conveyor/scheduler"
	"github.com/GoCodeAlone/conveyor/secrets"
)

// BuildScheduler constructs the scheduler from the service configuration:
// it loads the pipeline definition and connects the configured cache,
// secret, registry, and deploy backends.
func BuildScheduler(ctx context.Context, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*scheduler.Scheduler, error) {
	def, err := pipeline.LoadFromFile(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	cacheStore, err := buildCacheStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	secretStore, err := buildSecretStore(cfg)
	if err != nil {
		return nil, err
	}

	target, err := buildDeployTarget(cfg)
	if err != nil {
		return nil, err
	}

	cmdRunner, err := runner.NewDockerRunner()
	if err != nil {
		return nil, err
	}
	builder, err := runner.NewDockerBuilder()
	if err != nil {
		return nil, err
	}
	pusher, err := registry.NewDockerPusher()
	if err != nil {
		return nil, err
	}

	return scheduler.New(def, scheduler.Options{
		Model:        promotion.NewModel(cfg.Service),
		Secrets:      secrets.NewResolver(secretStore),
		Cache:        cache.NewMounter(cacheStore),
		Runner:       cmdRunner,
		Builder:      builder,
		Pusher:       pusher,
		Target:       target,
		Logger:       logger,
		Metrics:      collector,
		WorkDir:      cfg.WorkDir,
		BuildContext: cfg.BuildContext,
		Dockerfile:   cfg.Dockerfile,
		StageTimeout: cfg.Timeouts.Stage,
		RunTimeout:   cfg.Timeouts.Run,
	})
}

func buildCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "local":
		return cache.NewLocalStore(cfg.Cache.Dir), nil
	case "s3":
		opts := []func(*awscfg.LoadOptions) error{}
		if cfg.Cache.Region != "" {
			opts = append(opts, awscfg.WithRegion(cfg.Cache.Region))
		}
		awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("conveyor: failed to load AWS config: %w", err)
		}
		return cache.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Cache.Bucket, cfg.Cache.Prefix), nil
	default:
		return nil, fmt.Errorf("conveyor: unknown cache backend %q", cfg.Cache.Backend)
	}
}

func buildSecretStore(cfg *config.Config) (secrets.Store, error) {
	switch cfg.Secrets.Backend {
	case "file":
		return secrets.NewFileStore(cfg.Secrets.Dir), nil
	case "vault":
		return secrets.NewVaultStore(secrets.VaultConfig{
			Address:   cfg.Secrets.Vault.Address,
			Token:     cfg.Secrets.Vault.Token,
			MountPath: cfg.Secrets.Vault.Mount,
		})
	default:
		return nil, fmt.Errorf("conveyor: unknown secrets backend %q", cfg.Secrets.Backend)
	}
}

func buildDeployTarget(cfg *config.Config) (deploy.Target, error) {
	switch cfg.Deploy.Backend {
	case "none":
		return deploy.NewFakeTarget(), nil
	case "kubernetes":
		var (
			restCfg *rest.Config
			err     error
		)
		if cfg.Deploy.Kubeconfig != "" {
			restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Deploy.Kubeconfig)
		} else {
			restCfg, err = rest.InClusterConfig()
		}
		if err != nil {
			return nil, fmt.Errorf("conveyor: failed to load Kubernetes config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("conveyor: failed to create Kubernetes client: %w", err)
		}
		return deploy.NewKubeTarget(clientset), nil
	default:
		return nil, fmt.Errorf("conveyor: unknown deploy backend %q", cfg.Deploy.Backend)
	}
}
