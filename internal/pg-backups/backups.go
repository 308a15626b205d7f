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

package backups

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/bingwapro/bingwa/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// BackupManager dumps the bingwa schema with pg_dump and ships archives to S3.
type BackupManager struct {
	Config   *config.Configuration
	Uploader *s3manager.Uploader
	now      func() time.Time
}

func NewBackupManager(cfg *config.Configuration) *BackupManager {
	return &BackupManager{Config: cfg, now: time.Now}
}

func (bm *BackupManager) clock() time.Time {
	if bm.now == nil {
		return time.Now()
	}
	return bm.now()
}

// BackupToDisk writes a plain SQL dump under <dir>/<date>/ and returns its path.
func (bm *BackupManager) BackupToDisk(ctx context.Context) (string, error) {
	dsn := bm.Config.DataSource.Dns
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("failed to ping database: %w", err)
	}

	var dbSize string
	if err := db.QueryRowContext(ctx, "SELECT pg_size_pretty(pg_database_size(current_database()))").Scan(&dbSize); err != nil {
		return "", err
	}
	logrus.WithField("size", dbSize).Info("starting database backup")

	conn, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}

	now := bm.clock()
	backupDir := filepath.Join(bm.Config.Backup.Dir, now.Format("2006-01-02"))
	if err := os.MkdirAll(backupDir, os.ModePerm); err != nil {
		return "", err
	}

	backupFilePath := filepath.Join(backupDir, fmt.Sprintf("bingwa-%s-backup.sql", now.Format("150405")))
	cmd := exec.CommandContext(ctx, "pg_dump", "-U", conn.user, "-d", conn.database, "-n", "bingwa", "-f", backupFilePath)
	cmd.Env = append(os.Environ(), "PGHOST="+conn.host, "PGPORT="+conn.port, "PGUSER="+conn.user, "PGPASSWORD="+conn.password)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pg_dump failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	logrus.WithField("file", backupFilePath).Info("backup written")
	return backupFilePath, nil
}

// BackupToS3 takes a fresh dump, zips it and uploads it to the configured bucket.
func (bm *BackupManager) BackupToS3(ctx context.Context) error {
	backupFile, err := bm.BackupToDisk(ctx)
	if err != nil {
		return fmt.Errorf("failed to backup to disk: %w", err)
	}

	zipFile := backupFile + ".zip"
	if err := zipFiles(zipFile, backupFile); err != nil {
		return err
	}
	defer os.Remove(zipFile)

	uploader := bm.Uploader
	if uploader == nil {
		uploader, err = newUploader(bm.Config.Backup)
		if err != nil {
			return err
		}
	}

	key := objectKey(bm.clock(), zipFile)
	f, err := os.Open(zipFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bm.Config.Backup.S3Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{"bucket": bm.Config.Backup.S3Bucket, "key": key}).Info("backup uploaded")
	return nil
}

func newUploader(cfg config.BackupConfig) (*s3manager.Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("backup s3 bucket is not configured")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.S3Region)}
	if cfg.AwsAccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AwsAccessKeyID, cfg.AwsSecretAccessKey, "")
	}
	// S3-compatible stores such as MinIO
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	return s3manager.NewUploader(sess), nil
}

func objectKey(at time.Time, zipFile string) string {
	return fmt.Sprintf("bingwa/%s/%s", at.Format("2006-01-02"), filepath.Base(zipFile))
}

type dsnParts struct {
	user     string
	password string
	host     string
	port     string
	database string
}

func parseDSN(dsn string) (dsnParts, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsnParts{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return dsnParts{}, fmt.Errorf("unsupported data source %q for backups", u.Scheme)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, port = u.Host, "5432"
	}
	password, _ := u.User.Password()
	return dsnParts{
		user:     u.User.Username(),
		password: password,
		host:     host,
		port:     port,
		database: strings.TrimPrefix(u.Path, "/"),
	}, nil
}

func zipFiles(destZip string, files ...string) error {
	out, err := os.Create(destZip)
	if err != nil {
		return err
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	for _, path := range files {
		if err := addToZip(writer, path); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}

func addToZip(writer *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := writer.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
