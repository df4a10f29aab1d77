// Package container is the composition root shared by cmd/server and
// cmd/worker. It owns the store connection, the metrics registry and the
// optional AWS clients, and is the only place that knows every package.
package container

import (
	"context"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/alertx"
	"github.com/Abraxas-365/jobrelay/pkg/alertx/alertxconsole"
	"github.com/Abraxas-365/jobrelay/pkg/alertx/alertxses"
	"github.com/Abraxas-365/jobrelay/pkg/config"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/jobrelay/pkg/fsx/fsxs3"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxpostgres"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/Abraxas-365/jobrelay/pkg/metricx"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

var containerErrors = errx.NewRegistry("CONTAINER")

var (
	ErrConnect = containerErrors.Register("CONNECT", errx.TypeUnavailable, 503, "Failed to connect to the job store")
	ErrAWS     = containerErrors.Register("AWS_CONFIG", errx.TypeInternal, 500, "Unable to load AWS SDK config")
)

// Store is what both backends provide.
type Store interface {
	jobx.Queue
	jobx.HealthStore
}

// Container holds shared infrastructure.
type Container struct {
	Config *config.Config
	Log    *logx.Logger

	Store    Store
	Registry *prometheus.Registry
	Metrics  *metricx.Metrics
}

// New connects to the configured backend and builds the metrics registry.
func New(ctx context.Context, cfg *config.Config, log *logx.Logger) (*Container, error) {
	log = log.Named("container")
	log.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg, Log: log}

	store, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}
	c.Store = store

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metricx.NewQueueCollector(store.Stats, 2*time.Second),
	)
	c.Metrics = metricx.New(c.Registry)

	log.WithField("backend", cfg.Jobx.Backend).Info("✅ Application container initialized")
	return c, nil
}

func (c *Container) openStore(ctx context.Context) (Store, error) {
	cfg := c.Config
	switch cfg.Jobx.Backend {
	case config.BackendPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.URL)
		if err != nil {
			return nil, containerErrors.NewWithCause(ErrConnect, err).WithDetail("backend", "postgres")
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

		q := jobxpostgres.NewQueue(db, cfg.Postgres.URL, c.Log, jobxpostgres.WithTTL(cfg.Jobx.TTL))
		if cfg.Postgres.AutoMigrate {
			if err := q.Migrate(); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		c.Log.Info("  ✅ Postgres connected")
		return q, nil

	default:
		opts, err := c.redisOptions()
		if err != nil {
			return nil, err
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, containerErrors.NewWithCause(ErrConnect, err).WithDetail("backend", "redis")
		}
		c.Log.Info("  ✅ Redis connected")
		return jobxredis.NewQueue(rdb, c.Log,
			jobxredis.WithPrefix(cfg.Jobx.KeyPrefix),
			jobxredis.WithTTL(cfg.Jobx.TTL),
		), nil
	}
}

func (c *Container) redisOptions() (*redis.Options, error) {
	rc := c.Config.Redis
	if rc.URL != "" {
		opts, err := redis.ParseURL(rc.URL)
		if err != nil {
			return nil, containerErrors.NewWithCause(ErrConnect, err).WithDetail("redis_url", "unparseable")
		}
		opts.PoolSize = rc.PoolSize
		return opts, nil
	}
	return &redis.Options{
		Addr:     c.Config.RedisAddr(),
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	}, nil
}

func (c *Container) loadAWS(ctx context.Context, region string) (aws.Config, error) {
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, containerErrors.NewWithCause(ErrAWS, err).WithDetail("region", region)
	}
	return awsCfg, nil
}

// AlertSender returns the sender for ALERT_PROVIDER.
func (c *Container) AlertSender(ctx context.Context) (alertx.Sender, error) {
	ac := c.Config.Alert
	if ac.Provider != config.AlertSES {
		return alertxconsole.NewSender(c.Log), nil
	}
	awsCfg, err := c.loadAWS(ctx, ac.AWSRegion)
	if err != nil {
		return nil, err
	}
	c.Log.Infof("  ✅ SES alerts configured (region: %s)", ac.AWSRegion)
	return alertxses.NewSender(ses.NewFromConfig(awsCfg), ac.From), nil
}

// ArchiveFS returns the archive file system, or nil when archiving is off.
func (c *Container) ArchiveFS(ctx context.Context) (fsx.FileSystem, error) {
	ac := c.Config.Archive
	switch ac.Mode {
	case config.ArchiveS3:
		awsCfg, err := c.loadAWS(ctx, ac.AWSRegion)
		if err != nil {
			return nil, err
		}
		c.Log.Infof("  ✅ S3 archive configured (bucket: %s, region: %s)", ac.Bucket, ac.AWSRegion)
		return fsxs3.NewS3FileSystem(s3.NewFromConfig(awsCfg), ac.Bucket, ""), nil

	case config.ArchiveLocal:
		localFS, err := fsxlocal.NewLocalFileSystem(ac.Dir)
		if err != nil {
			return nil, err
		}
		c.Log.Infof("  ✅ Local archive configured (path: %s)", localFS.BasePath())
		return localFS, nil

	default:
		return nil, nil
	}
}

// Cleanup closes the store.
func (c *Container) Cleanup() {
	c.Log.Info("🧹 Cleaning up resources...")
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Log.WithError(err).Error("error closing job store")
		} else {
			c.Log.Info("  ✅ Job store connection closed")
		}
	}
	c.Log.Info("✅ Cleanup complete")
}
