package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"
	"github.com/go-kit/log/level"
	apiutil "github.com/mediashield/go-secure-media-server/api/util"
	"github.com/mediashield/go-secure-media-server/apiroutes"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/queue"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
	"github.com/redis/go-redis/v9"
)

// ConfigAWS loads the shared AWS configuration. Static keys are optional, the default chain is used otherwise.
func ConfigAWS(conf *global.Config, env *types.Environment) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(conf.Aws.Region)}
	if conf.Aws.Key != "" {
		creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(conf.Aws.Key, conf.Aws.Secret, ""))
		opts = append(opts, config.WithCredentialsProvider(creds))
	}
	awsConf, err := config.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		panic(err)
	}
	if conf.Aws.Endpoint != "" {
		awsConf.BaseEndpoint = aws.String(conf.Aws.Endpoint)
	}
	env.AwsConfig = awsConf
}

func ConfigS3Storage(conf *global.Config, env *types.Environment) {
	s3Client := s3.NewFromConfig(env.AwsConfig, func(o *s3.Options) {
		// custom endpoints (localstack, minio) need path style addressing
		o.UsePathStyle = conf.Aws.Endpoint != ""
	})
	uploader := manager.NewUploader(s3Client)
	downloader := manager.NewDownloader(s3Client)
	env.AddS3Uploader(uploader)
	env.AddS3Downloader(downloader)

	env.S3Client = s3Client
}

// ConfigRevocationStore picks the revocation backend from config
func ConfigRevocationStore(conf *global.Config, env *types.Environment) repository.RevocationStore {
	switch conf.Revocation.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Host + ":" + strconv.Itoa(conf.Redis.Port),
			Username: conf.Redis.Username,
			Password: conf.Redis.Password,
			DB:       0,
		})
		env.RedisClient = client
		return repository.NewRedisRevocationStore(client)
	default:
		return repository.NewDynamoRevocationStore(dynamodb.NewFromConfig(env.AwsConfig), conf.Revocation.TableName, conf.Revocation.IndexName)
	}
}

// ConfigBlockListWriter returns the writer rebuilt block-lists go to. The local edge block-list is
// always updated; with the waf writer the rule group is replaced as well.
func ConfigBlockListWriter(conf *global.Config, env *types.Environment, blockList *services.BlockList) repository.BlockListWriter {
	if conf.RuleGroup.Writer != "waf" {
		return blockList
	}
	waf := repository.NewWafBlockListWriter(wafv2.NewFromConfig(env.AwsConfig), conf.RuleGroup.Name, conf.RuleGroup.ID, conf.RuleGroup.Scope)
	return repository.BlockListWriters{waf, blockList}
}

// ConfigServices builds every service from config and returns the route dependencies and the task queue
func ConfigServices(conf *global.Config, env *types.Environment, blockList *services.BlockList) (*apiroutes.Services, *queue.TaskQueue) {
	secretStore := repository.NewSecretsManagerStore(secretsmanager.NewFromConfig(env.AwsConfig))
	keyRing := services.NewKeyRingService(secretStore, conf.Secrets.StackName, conf.Secrets.CacheDuration())
	edgeKeys := services.NewEdgeKeyService(secretStore, conf.Secrets.StackName, conf.Secrets.CacheDuration(), conf.Secrets.PropagationDuration())

	revocationStore := ConfigRevocationStore(conf, env)
	revocationService := services.NewRevocationService(revocationStore, conf.Revocation.ManualTTL, conf.Revocation.AutoTTL)

	s3Service := services.NewS3Service(env, conf.Risk.LogBucket, conf.Risk.LogPrefix, conf.RuleGroup.ArchiveBucket)
	var archive services.BlockListArchive
	if conf.RuleGroup.ArchiveBucket != "" {
		archive = s3Service
	}

	var runner repository.QueryRunner
	var logs repository.AccessLogSource
	if conf.Risk.Engine == "local" {
		logs = s3Service
	} else {
		runner = repository.NewAthenaQueryRunner(athena.NewFromConfig(env.AwsConfig), conf.Risk.DbName, conf.Risk.WorkGroup, conf.Risk.OutputLocation)
	}

	rotation := services.NewRotationService(keyRing, edgeKeys, conf.Rotation.MaxAttempts, conf.Rotation.BaseDelayDuration())
	risk := services.NewRiskService(conf.Risk, runner, logs, revocationService)
	ruleBudget := services.NewRuleBudgetService(revocationStore, ConfigBlockListWriter(conf, env, blockList), archive, conf.RuleGroup.Capacity, conf.Revocation.Retention)

	viewers, err := apiutil.NewViewerResolver(conf.TrustedProxies, apiutil.EdgeHeaders{
		ViewerAddress: conf.Edge.ViewerAddressHeader,
		Country:       conf.Edge.CountryHeader,
		Region:        conf.Edge.RegionHeader,
		City:          conf.Edge.CityHeader,
	})
	if err != nil {
		panic(err)
	}

	svc := &apiroutes.Services{
		Tokens:      services.NewTokenService(keyRing),
		Assets:      repository.NewDynamoAssetCatalog(dynamodb.NewFromConfig(env.AwsConfig), conf.Assets.TableName),
		Revocations: revocationService,
		Rotation:    rotation,
		Risk:        risk,
		BlockList:   blockList,
		Validator:   services.NewEdgeValidator(edgeKeys, conf.Edge),
		Viewers:     viewers,
	}
	return svc, queue.NewTaskQueue(rotation, risk, ruleBudget)
}

// ConfigCronJobs schedules rotation, risk scoring and block-list rebuilds
func ConfigCronJobs(conf *global.Config, env *types.Environment, taskQueue *queue.TaskQueue) {
	// rotation and scoring are queued so only one instance runs each slot
	if conf.Rotation.Schedule != "" {
		slot, err := queue.ScheduleSlot(conf.Rotation.Schedule, time.Now())
		if err != nil {
			panic(fmt.Sprintf("invalid rotation schedule %q: %v", conf.Rotation.Schedule, err))
		}
		if _, err := env.Cron.AddFunc(conf.Rotation.Schedule, queue.CronEnqueue(env.TaskClient, types.QueueTypeRotateSecrets, slot)); err != nil {
			panic(fmt.Sprintf("invalid rotation schedule %q: %v", conf.Rotation.Schedule, err))
		}
	}
	if conf.Risk.Enabled {
		every := time.Duration(conf.Risk.Schedule) * time.Minute
		env.Cron.AddFunc(fmt.Sprintf("@every %dm", conf.Risk.Schedule), queue.CronEnqueue(env.TaskClient, types.QueueTypeAutoRevocation, every)) // score sessions every N minutes
	}
	env.Cron.AddFunc(fmt.Sprintf("@every %dm", conf.RuleGroup.Schedule), taskQueue.CronRebuildRuleGroup)
	env.Cron.Start()
	go taskQueue.CronRebuildRuleGroup() // run once on startup

	level.Info(global.Logger).Log("msg", "cron jobs scheduled", "rotation", conf.Rotation.Schedule, "risk", conf.Risk.Enabled, "ruleGroupEvery", conf.RuleGroup.Schedule)
}
