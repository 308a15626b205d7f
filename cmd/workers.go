/*
Copyright 2024 Bingwa Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/bingwapro/bingwa"
	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/model"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// initializeQueues weights webhook delivery above credit retries.
func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{
		conf.Queue.WebhookQueue:     3,
		conf.Queue.CreditRetryQueue: 2,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := bingwa.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		redisOption,
		asynq.Config{
			Concurrency: conf.Queue.NumberOfWorkers,
			Queues:      queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logrus.WithFields(logrus.Fields{
					"task":    task.Type(),
					"retried": retried,
					"max":     maxRetry,
				}).WithError(err).Warn("task failed")
			}),
		},
	), nil
}

// initializeScheduler registers the periodic credit sweep.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := bingwa.RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(redisOption, &asynq.SchedulerOpts{Location: model.EAT})
	task, err := bingwa.NewCreditSweepTask(conf)
	if err != nil {
		return nil, err
	}
	entryID, err := scheduler.Register(conf.Queue.CreditSweepCron, task)
	if err != nil {
		return nil, fmt.Errorf("register credit sweep %q: %v", conf.Queue.CreditSweepCron, err)
	}
	logrus.WithFields(logrus.Fields{"entry": entryID, "cron": conf.Queue.CreditSweepCron}).Info("credit sweep scheduled")
	return scheduler, nil
}

func startMonitoring(conf *config.Configuration) error {
	redisOption, err := bingwa.RedisClientOpt(conf)
	if err != nil {
		return err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
	return nil
}

// workerCommands defines the "workers" command: webhook delivery, credit
// retries and the periodic credit sweep.
func workerCommands(b *bingwaInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start bingwa workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := b.cnf

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			b.bingwa.RegisterHandlers(mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			if err := startMonitoring(conf); err != nil {
				log.Fatal(err)
			}

			// Run blocks until SIGTERM or SIGINT.
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
