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

	"github.com/bingwapro/bingwa"
	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

func migrateCommands(b *bingwaInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run bingwa database migrations",
	}

	cmd.AddCommand(migrateDirectionCommand(b, "up", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(b, "down", migrate.Down))

	return cmd
}

func migrateDirectionCommand(b *bingwaInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("apply migrations %s", use),
		Run: func(cmd *cobra.Command, args []string) {
			if b.cnf.DataSource.Dns == config.MemoryDataSource {
				log.Println("memory data source has no schema to migrate")
				return
			}

			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: bingwa.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(b.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetSchema("bingwa")

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			if direction == migrate.Up {
				fmt.Printf("Applied %d migrations!\n", n)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}
}
