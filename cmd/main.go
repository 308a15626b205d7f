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
	"fmt"
	"log"
	"os"

	"github.com/bingwapro/bingwa"
	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/database"
	"github.com/bingwapro/bingwa/database/memstore"
	"github.com/bingwapro/bingwa/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Bingwa represents the CLI application, encapsulating the root Cobra command.
type Bingwa struct {
	cmd *cobra.Command
}

// bingwaInstance holds the service and its configuration for the subcommands.
type bingwaInstance struct {
	bingwa *bingwa.Bingwa
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configFile and builds the service before any subcommand runs.
func preRun(app *bingwaInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// config, migrate and backup only need the configuration
		if cmd.Name() == "config" || (cmd.Parent() != nil && (cmd.Parent().Name() == "migrate" || cmd.Parent().Name() == "backup")) {
			app.cnf = cnf
			return nil
		}

		newBingwa, err := setupBingwa(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.bingwa = newBingwa
		app.cnf = cnf

		return nil
	}
}

// setupBingwa connects the configured data source and builds the service on it.
// The memory:// data source keeps everything in process, for demos and local runs.
func setupBingwa(cfg *config.Configuration) (*bingwa.Bingwa, error) {
	var db database.IDataSource
	if cfg.DataSource.Dns == config.MemoryDataSource {
		logrus.Warn("using the in-memory data source; state is lost on restart")
		db = memstore.New()
	} else {
		ds, err := database.NewDataSource(cfg)
		if err != nil {
			return nil, fmt.Errorf("error getting datasource: %v", err)
		}
		db = ds
	}

	newBingwa, err := bingwa.NewBingwa(db)
	if err != nil {
		return nil, fmt.Errorf("error creating bingwa: %v", err)
	}
	return newBingwa, nil
}

func NewCLI() *Bingwa {
	var configFile string
	b := &bingwaInstance{}

	var rootCmd = &cobra.Command{
		Use:   "bingwa",
		Short: "Bingwa agent top-ups and USSD automation",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./bingwa.json", "Configuration file for bingwa")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands(b))
	rootCmd.AddCommand(backupCommands(b))

	return &Bingwa{cmd: rootCmd}
}

func (w Bingwa) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
