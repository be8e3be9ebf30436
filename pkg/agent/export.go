/**
# Copyright (c) Advanced Micro Devices, Inc. All rights reserved.
#
# Licensed under the Apache License, Version 2.0 (the \"License\");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#     http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an \"AS IS\" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
**/

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ROCm/device-health-probe/pkg/agent/config"
	"github.com/ROCm/device-health-probe/pkg/healthprobe"
	"github.com/ROCm/device-health-probe/pkg/logger"
)

const (
	ProviderAWS   = "aws"
	ProviderAzure = "azure"
	ProviderFile  = "file"

	azureAccountName      = "AZURE_STORAGE_ACCOUNT"
	azureStorageKey       = "AZURE_STORAGE_KEY"
	awsAccessKeyId        = "AWS_ACCESS_KEY_ID"
	awsSecretAccessKey    = "AWS_SECRET_ACCESS_KEY"
	awsRegion             = "AWS_REGION"
	awsEndpointUrl        = "AWS_ENDPOINT_URL"
	cloudSecretPrefixPath = "/etc/logs-export-secrets"

	uploadAttempts = 3
)

// secret env vars are process wide
var cloudEnvLock sync.Mutex

// ResultLog is the archived record of a failed run
type ResultLog struct {
	Result *healthprobe.Result `json:"result"`
	Stdout string              `json:"stdout,omitempty"`
	Stderr string              `json:"stderr,omitempty"`
}

// LogFileName builds <ts>_<mode>_dev<id>_<runId>.json.gz
func LogFileName(res *healthprobe.Result) string {
	ts := res.StartedAt.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s_%s_dev%d_%s.json.gz", ts, res.Mode, res.Device, res.RunID)
}

// Exporter archives failed runs and uploads them
type Exporter struct {
	logDir     string
	secretRoot string
}

func NewExporter(logDir string) *Exporter {
	return &Exporter{
		logDir:     logDir,
		secretRoot: cloudSecretPrefixPath,
	}
}

// Export writes the gzipped result log and uploads it when cfg is set. The
// local path is returned even when the upload fails.
func (e *Exporter) Export(ctx context.Context, run *RunResult, cfg *config.LogsExportConfig) (string, error) {
	if run == nil || run.Result == nil {
		return "", fmt.Errorf("no result to export")
	}
	if err := os.MkdirAll(e.logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log dir %s: %v", e.logDir, err)
	}
	name := LogFileName(run.Result)
	localPath := filepath.Join(e.logDir, name)
	data, err := json.Marshal(&ResultLog{
		Result: run.Result,
		Stdout: run.Stdout,
		Stderr: run.Stderr,
	})
	if err != nil {
		return "", err
	}
	if err := SaveResultToGz(data, localPath); err != nil {
		return "", err
	}
	logger.Log.Printf("result log of run %v saved to %v", run.Result.RunID, localPath)
	if cfg == nil || cfg.Provider == "" {
		return localPath, nil
	}
	if err := e.Upload(ctx, cfg, name, localPath); err != nil {
		return localPath, err
	}
	return localPath, nil
}

// SaveResultToGz gzips data into path
func SaveResultToGz(data []byte, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create gzip file %v, err: %v", path, err)
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	if _, err := gzWriter.Write(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to write to gzip writer %v, err: %v", path, err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush gzip file %v, err: %v", path, err)
	}
	return nil
}

// BucketURL returns the gocloud url of the configured bucket
func (e *Exporter) BucketURL(cfg *config.LogsExportConfig) (string, error) {
	folder := strings.Trim(cfg.Folder, "/")
	prefix := ""
	if folder != "" {
		prefix = folder + "/"
	}
	switch cfg.Provider {
	case ProviderAzure:
		return fmt.Sprintf("azblob://%s?prefix=%s", cfg.Bucket, url.QueryEscape(prefix)), nil
	case ProviderAWS:
		// for s3 compatible storage servers like minio, endpoint url is different from aws and passed in secret.
		endpointURL := e.readSecret(cfg.SecretName, awsEndpointUrl)
		if endpointURL == "" {
			return fmt.Sprintf("s3://%s?awssdk=v2&prefix=%s", cfg.Bucket, url.QueryEscape(prefix)), nil
		}
		return fmt.Sprintf("s3://%s?endpoint=%s&disableSSL=true&s3ForcePathStyle=true&awssdk=v1&prefix=%s",
			cfg.Bucket, url.QueryEscape(endpointURL), url.QueryEscape(prefix)), nil
	case ProviderFile:
		dir := filepath.ToSlash(cfg.Bucket)
		if !strings.HasPrefix(dir, "/") {
			dir = "/" + dir
		}
		return fmt.Sprintf("file://%s?create_dir=true&prefix=%s", dir, url.QueryEscape(prefix)), nil
	}
	return "", fmt.Errorf("cloud provider %s is not supported", cfg.Provider)
}

func (e *Exporter) secretEnvs(provider string) []string {
	switch provider {
	case ProviderAzure:
		return []string{azureAccountName, azureStorageKey}
	case ProviderAWS:
		return []string{awsAccessKeyId, awsSecretAccessKey, awsRegion}
	}
	return nil
}

func (e *Exporter) readSecret(secretName, key string) string {
	dat, err := os.ReadFile(filepath.Join(e.secretRoot, secretName, strings.ToLower(key)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(dat))
}

func (e *Exporter) setSecretEnv(cfg *config.LogsExportConfig) (func(), error) {
	envs := e.secretEnvs(cfg.Provider)
	for _, env := range envs {
		val := e.readSecret(cfg.SecretName, env)
		if val == "" {
			logger.Log.Printf("Secret %s does not contain %s key", cfg.SecretName, strings.ToLower(env))
			return func() {}, fmt.Errorf("Secret %s does not contain %s key", cfg.SecretName, strings.ToLower(env))
		}
		if err := os.Setenv(env, val); err != nil {
			return func() {}, fmt.Errorf("Unable to set env variable %s. Error:%v", env, err)
		}
	}
	return func() {
		for _, env := range envs {
			os.Unsetenv(env)
		}
	}, nil
}

// Upload copies localPath to the configured bucket as name
func (e *Exporter) Upload(ctx context.Context, cfg *config.LogsExportConfig, name, localPath string) error {
	bucketURL, err := e.BucketURL(cfg)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("unable to read the local file %s: %v", localPath, err)
	}

	cloudEnvLock.Lock()
	defer cloudEnvLock.Unlock()
	unset, err := e.setSecretEnv(cfg)
	defer unset()
	if err != nil {
		return err
	}

	upload := func() error {
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			logger.Log.Printf("Unable to open connection to cloud blob storage url %s. Error %v", bucketURL, err)
			return err
		}
		defer bucket.Close()
		return WriteBlob(ctx, bucket, name, data)
	}
	// retry upload before marking it as failed
	for i := 0; i < uploadAttempts; i++ {
		if err = upload(); err == nil {
			logger.Log.Printf("uploaded %v to %v", name, bucketURL)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return fmt.Errorf("upload of %s failed after %d attempts: %w", name, uploadAttempts, err)
}

// WriteBlob writes data to key of bucket
func WriteBlob(ctx context.Context, bucket *blob.Bucket, key string, data []byte) error {
	w, err := bucket.NewWriter(ctx, path.Clean(key), &blob.WriterOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
	})
	if err != nil {
		logger.Log.Printf("Unable to open blob writer. Error: %v", err)
		return err
	}
	if _, err = w.Write(data); err != nil {
		w.Close()
		logger.Log.Printf("Unable to upload file to cloud. Error: %v", err)
		return err
	}
	if err := w.Close(); err != nil {
		logger.Log.Printf("Unable to close the writer. Error: %v", err)
		return err
	}
	return nil
}
