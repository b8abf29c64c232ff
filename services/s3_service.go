package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
)

// default field order of CloudFront standard logs, used when a file has no #Fields header
var defaultLogFields = []string{
	"date", "time", "x-edge-location", "sc-bytes", "c-ip", "cs-method", "cs(Host)", "cs-uri-stem",
	"sc-status", "cs(Referer)", "cs(User-Agent)", "cs-uri-query",
}

// S3Service reads edge access logs from S3 and archives block-list snapshots to it.
type S3Service struct {
	env           *types.Environment
	logBucket     string
	logPrefix     string
	archiveBucket string
}

func NewS3Service(env *types.Environment, logBucket, logPrefix, archiveBucket string) *S3Service {
	return &S3Service{
		env:           env,
		logBucket:     logBucket,
		logPrefix:     logPrefix,
		archiveBucket: archiveBucket,
	}
}

// ArchiveBlockList uploads the rules as a json snapshot and returns its s3 location.
func (s3s *S3Service) ArchiveBlockList(ctx context.Context, rules []*types.BlockRule) (string, error) {
	if s3s.archiveBucket == "" {
		return "", types.ErrBadRequest
	}
	content, err := json.Marshal(rules)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	key := fmt.Sprintf("blocklist/%s/%d.json", now.Format("2006/01/02"), now.UnixNano())
	_, uErr := s3s.env.S3Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3s.archiveBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	})
	if uErr != nil {
		global.Logger.Log("error", uErr.Error(), "msg", "failed to upload block-list snapshot", "key", key)
		return "", uErr
	}
	return fmt.Sprintf("s3://%s/%s", s3s.archiveBucket, key), nil
}

// ReadAccessLogs returns the entries of every log object written since the given time.
func (s3s *S3Service) ReadAccessLogs(ctx context.Context, since time.Time) ([]*types.AccessLogEntry, error) {
	if s3s.logBucket == "" {
		return nil, types.ErrBadRequest
	}
	paginator := s3.NewListObjectsV2Paginator(s3s.env.S3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3s.logBucket),
		Prefix: aws.String(s3s.logPrefix),
	})
	entries := []*types.AccessLogEntry{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list access logs: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(since) {
				continue
			}
			key := aws.ToString(obj.Key)
			objEntries, err := s3s.readLogObject(ctx, key)
			if err != nil {
				level.Warn(global.Logger).Log("msg", "skipping unreadable access log", "key", key, "error", err)
				continue
			}
			entries = append(entries, objEntries...)
		}
	}
	return entries, nil
}

func (s3s *S3Service) readLogObject(ctx context.Context, key string) ([]*types.AccessLogEntry, error) {
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := s3s.env.S3Downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s3s.logBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	var r io.Reader = bytes.NewReader(buf.Bytes())
	if strings.HasSuffix(key, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return ParseAccessLog(r)
}

// ParseAccessLog reads a tab separated W3C access log as written by CloudFront.
func ParseAccessLog(r io.Reader) ([]*types.AccessLogEntry, error) {
	fields := indexFields(defaultLogFields)
	entries := []*types.AccessLogEntry{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#Fields:") {
				fields = indexFields(strings.Fields(strings.TrimPrefix(line, "#Fields:")))
			}
			continue
		}
		values := strings.Split(line, "\t")
		get := func(name string) string {
			i, ok := fields[name]
			if !ok || i >= len(values) || values[i] == "-" {
				return ""
			}
			return values[i]
		}
		ts, err := time.Parse("2006-01-02 15:04:05", get("date")+" "+get("time"))
		if err != nil {
			continue
		}
		status, _ := strconv.Atoi(get("sc-status"))
		size, _ := strconv.ParseInt(get("sc-bytes"), 10, 64)
		entries = append(entries, &types.AccessLogEntry{
			Timestamp: ts.Unix(),
			ViewerIP:  get("c-ip"),
			URI:       get("cs-uri-stem"),
			Referer:   get("cs(Referer)"),
			UserAgent: get("cs(User-Agent)"),
			Status:    status,
			Bytes:     size,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func indexFields(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = i
	}
	return m
}
