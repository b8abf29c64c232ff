package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis_rate/v10"
	"github.com/hibiken/asynq"
	"github.com/mediashield/go-secure-media-server/apiroutes"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/queue"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
	w3srv "github.com/mailio/go-web3-kit/gingonic"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"
)

func initRedisRateLimiter(conf global.Config) *redis.Client {
	redisRateLimitClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Host + ":" + strconv.Itoa(conf.Redis.Port),
		Username: conf.Redis.Username,
		Password: conf.Redis.Password,
		DB:       1,
	})

	// configure rate limiting
	// clears all data in the Redis database associated with the 'redisRateLimitClient' ignoring potential errors
	rCtx, rCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer rCancel()

	_ = redisRateLimitClient.FlushDB(rCtx).Err()

	limiter := redis_rate.NewLimiter(redisRateLimitClient)
	global.RateLimiter = limiter

	return redisRateLimitClient
}

// calculates the retry delay using exponential backoff
// Here, baseDelay is the initial delay, and maxDelay caps the delay duration
func asyncRetryDelayFunc(attempt int, err error, t *asynq.Task) time.Duration {
	baseDelay := 1 * time.Minute // Starting from 1 minute
	maxDelay := 30 * time.Minute // Max delay capped at 30 minutes

	delay := baseDelay * time.Duration(1<<attempt) // Double the delay with each retry
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// initalizes the async queue
func initAsyncQueue(taskQueue *queue.TaskQueue) (*asynq.Server, *asynq.Client) {
	queueRedisClient := asynq.RedisClientOpt{
		Addr:     global.Conf.Redis.Host + ":" + strconv.Itoa(global.Conf.Redis.Port),
		Username: global.Conf.Redis.Username,
		Password: global.Conf.Redis.Password,
		DB:       2,
	}

	logLevel := asynq.InfoLevel
	if global.Conf.Mode != "debug" {
		logLevel = asynq.WarnLevel
	}

	taskClient := asynq.NewClient(queueRedisClient)
	// start a task queue server
	taskServer := asynq.NewServer(
		queueRedisClient,
		asynq.Config{
			Concurrency:    global.Conf.Queue.Concurrency,
			LogLevel:       logLevel,
			RetryDelayFunc: asyncRetryDelayFunc, // overriding the default retry delay function
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(types.QueueTypeRotateSecrets, taskQueue.ProcessSecretsTask)
	mux.HandleFunc(types.QueueTypeInitSecrets, taskQueue.ProcessSecretsTask)
	mux.HandleFunc(types.QueueTypeAutoRevocation, taskQueue.ProcessSessionsTask)
	mux.HandleFunc(types.QueueTypeRuleGroupRebuild, taskQueue.ProcessSessionsTask)

	if err := taskServer.Start(mux); err != nil {
		log.Fatalf("could not start server: %v", err)
	}
	return taskServer, taskClient
}

// starts the edge server that verifies playback tokens and proxies to the origin
func startEdgeServer(svc *apiroutes.Services) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router, err := apiroutes.ConfigEdgeRoutes(router, svc)
	if err != nil {
		panic(err)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", global.Conf.Host, global.Conf.Edge.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(fmt.Sprintf("%v\n", err))
		}
	}()
	level.Info(global.Logger).Log("msg", "edge server is ready to handle requests", "port", global.Conf.Edge.Port)
	return srv
}

func main() {
	var (
		configFile string
	)
	// configuration file optional path. Default:  current dir with  filename conf.yaml
	flag.StringVar(&configFile, "c", "conf.yaml", "Configuration file path.")
	flag.StringVar(&configFile, "config", "conf.yaml", "Configuration file path.")
	flag.Usage = usage
	flag.Parse()

	// loading configuration file
	err := global.LoadConfig(configFile, &global.Conf)
	if err != nil {
		global.Logger.Log("error", err, "msg", "conf.yaml failed to load")
		panic("Failed to load conf.yaml")
	}
	global.Logger = global.NewLogger(global.Conf.Mode)

	rrClient := initRedisRateLimiter(global.Conf)
	defer rrClient.Close()

	env := types.NewEnvironment(rrClient)
	defer env.Cron.Stop()

	// server wait to shutdown monitoring channels
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	stop := make(chan os.Signal, 1)

	signal.Notify(quit, os.Interrupt)
	signal.Notify(stop, os.Interrupt, unix.SIGTERM)

	// init routing (for RESTful API endpoints)
	router := w3srv.NewAPIRouter(&global.Conf.YamlConfig)

	// configure AWS clients
	ConfigAWS(&global.Conf, env)
	ConfigS3Storage(&global.Conf, env)

	blockList := services.NewBlockList()
	svc, taskQueue := ConfigServices(&global.Conf, env, blockList)

	// initialize the async queue
	taskServer, taskClient := initAsyncQueue(taskQueue)
	defer taskClient.Close()
	env.TaskClient = taskClient
	svc.Tasks = taskClient

	ConfigCronJobs(&global.Conf, env, taskQueue)

	// configure routes
	router = apiroutes.ConfigRoutes(router, svc)

	var edgeSrv *http.Server
	if global.Conf.Edge.Enabled {
		edgeSrv = startEdgeServer(svc)
	}

	// start server
	srv := w3srv.Start(&global.Conf.YamlConfig, router)
	// wait for server shutdown
	go w3srv.Shutdown(srv, quit, done)

	// stop the async queue server and the edge server
	go func() {
		for {
			s := <-stop
			global.Logger.Log("msg", "shutting down task queue server", "signal", s.String())
			if s == unix.SIGTSTP {
				taskServer.Stop() // Stop processing new tasks
				continue
			}
			break
		}
		taskServer.Shutdown()
		if edgeSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			edgeSrv.Shutdown(ctx)
		}
	}()

	global.Logger.Log("msg", "Server is ready to handle requests", "port", global.Conf.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("%v\n", err))
	}

	<-done

}

// usage will print out the flag options for the server.
func usage() {
	usageStr := `Usage: mediashield [options]
	Server Options:
	-c, --config <file>              Configuration file path
`
	fmt.Printf("%s\n", usageStr)
	os.Exit(0)
}
