// Package artifact S3에 저장된 학습 결과(model.tar.gz)를 모델 디렉토리로 가져온다
package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"go.uber.org/zap"
)

// S3Args S3 접속 설정
type S3Args struct {
	Region string `arg:"--region,env:AWS_REGION,help:AWS region"`
}

// Fetcher S3 모델 아티팩트 다운로더
type Fetcher struct {
	downloader s3manageriface.DownloaderAPI
	logger     *zap.Logger
}

// NewFetcher S3 세션으로 Fetcher 생성
func NewFetcher(args S3Args, logger *zap.Logger) *Fetcher {
	sess := session.Must(session.NewSession(
		&aws.Config{
			Region:                        aws.String(args.Region),
			CredentialsChainVerboseErrors: aws.Bool(true),
		},
	))

	return NewFetcherWithDownloader(s3manager.NewDownloader(sess), logger)
}

// NewFetcherWithDownloader 주어진 다운로더로 Fetcher 생성
func NewFetcherWithDownloader(d s3manageriface.DownloaderAPI, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		downloader: d,
		logger:     logger,
	}
}

// ParseURI s3://bucket/key 형식 파싱
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("Invalid s3 uri: %s", uri)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("Empty s3 key: %s", uri)
	}

	return u.Host, key, nil
}

// Fetch S3 객체를 받아 dir에 푼다. tar.gz가 아니면 파일 그대로 저장.
func (f *Fetcher) Fetch(ctx context.Context, uri, dir string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	buf := aws.WriteAtBuffer{}
	n, err := f.downloader.DownloadWithContext(ctx, &buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("Fail to download %s: %w", uri, err)
	}
	f.logger.Info("model artifact downloaded", zap.String("uri", uri), zap.Int64("bytes", n))

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}

	if strings.HasSuffix(key, ".tar.gz") || strings.HasSuffix(key, ".tgz") {
		return Extract(bytes.NewReader(buf.Bytes()), dir)
	}

	return os.WriteFile(filepath.Join(dir, filepath.Base(key)), buf.Bytes(), 0644)
}

// Extract tar.gz 스트림을 dir에 푼다, dir 밖을 가리키는 항목은 거부
func Extract(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(root, header.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("Invalid path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.ModePerm); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
				return err
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeFile(dst string, src io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
