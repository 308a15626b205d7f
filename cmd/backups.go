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

	backups "github.com/bingwapro/bingwa/internal/pg-backups"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func backupCommands(b *bingwaInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "back up the bingwa schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "drive",
		Short: "write a pg_dump backup to the backup directory",
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := backups.NewBackupManager(b.cnf).BackupToDisk(context.Background()); err != nil {
				logrus.Error(err)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "s3",
		Short: "back up and upload the archive to S3",
		Run: func(cmd *cobra.Command, args []string) {
			if err := backups.NewBackupManager(b.cnf).BackupToS3(context.Background()); err != nil {
				logrus.Error(err)
			}
		},
	})

	return cmd
}
