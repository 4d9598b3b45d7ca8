package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/kaveri/deedscan/pipeline"
)

const (
	s3PrefixInbox     = "inbox"
	s3PrefixProcessed = "processed"
	s3PrefixFailed    = "failed"
)

// S3FileStore implements pipeline.FileStore against an S3-compatible
// bucket (AWS S3, MinIO, Hetzner Object Storage). Unlike LocalFileStore,
// Route is a CopyObject+DeleteObject pair since S3 has no rename
// primitive.
type S3FileStore struct {
	client S3Client
	bucket string
	log    *logrus.Entry

	mu   sync.Mutex
	seen map[string]int
}

// NewS3FileStore builds an S3-compatible client with a static-credentials
// provider and a custom endpoint resolver, path-style addressing included
// for non-AWS-S3 endpoints (MinIO, Hetzner Object Storage).
func NewS3FileStore(ctx context.Context, endpointURL, accessKey, secretKey, region, bucket string, log *logrus.Entry) (*S3FileStore, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRetryer(func() aws.Retryer { return retry.NewStandard() }),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpointURL, SigningRegion: region, HostnameImmutable: true}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.HTTPClient = sharedHTTPClient
	})

	return NewS3FileStoreWithClient(client, bucket, log), nil
}

// NewS3FileStoreWithClient constructs an S3FileStore over an already
// configured client, primarily for tests against MockS3Client.
func NewS3FileStoreWithClient(client S3Client, bucket string, log *logrus.Entry) *S3FileStore {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &S3FileStore{
		client: client,
		bucket: bucket,
		log:    log.WithField("component", "s3_filestore"),
		seen:   make(map[string]int),
	}
}

// inboxKey returns the inbox/<batch_id>__<name> key spec §4.A's on-disk
// layout requires, mirroring LocalFileStore's flat, non-nested naming so
// Claim/CollectFailed can recover batch membership from a prefix listing
// without a key-per-batch "directory".
func (s *S3FileStore) inboxKey(batchID, name string) string {
	return fmt.Sprintf("%s/%s%s%s", s3PrefixInbox, batchID, batchPrefixSep, name)
}

// Admit uploads each local srcPath into inbox/, deriving a stable
// document id from the filename stem with the same per-batch collision
// suffixing as LocalFileStore.
func (s *S3FileStore) Admit(ctx context.Context, batchID string, srcPaths []string) ([]string, []string, error) {
	documentIDs := make([]string, 0, len(srcPaths))
	admittedPaths := make([]string, 0, len(srcPaths))

	for _, src := range srcPaths {
		ext := filepath.Ext(src)
		stem := documentStem(strings.TrimSuffix(filepath.Base(src), ext))
		documentID := s.nextDocumentID(batchID, stem)
		key := s.inboxKey(batchID, documentID+ext)

		f, err := os.Open(src)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", src, err)
		}
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("uploading %s to %s: %w", src, key, err)
		}

		documentIDs = append(documentIDs, documentID)
		admittedPaths = append(admittedPaths, key)
	}

	s.log.WithField("batch_id", batchID).WithField("count", len(documentIDs)).Info("batch admitted to s3")
	return documentIDs, admittedPaths, nil
}

func (s *S3FileStore) nextDocumentID(batchID, stem string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := batchID + "/" + stem
	n := s.seen[k]
	s.seen[k] = n + 1
	if n == 0 {
		return stem
	}
	return fmt.Sprintf("%s_%d", stem, n)
}

// Claim lists every key under inbox/ whose name carries batchID's prefix.
func (s *S3FileStore) Claim(ctx context.Context, batchID string) ([]string, error) {
	return s.listPrefixed(ctx, s3PrefixInbox, batchID)
}

// Route copies sourcePath to processed/ or failed/, then deletes the
// original. processed/ drops the batch prefix since a succeeded document
// no longer needs batch membership recoverable from its key; failed/
// keeps it so CollectFailed can recover the owning batch.
func (s *S3FileStore) Route(ctx context.Context, sourcePath string, outcome pipeline.Outcome) error {
	name := sourcePath[strings.LastIndex(sourcePath, "/")+1:]
	batchID, rest, ok := splitInboxName(name)
	if !ok {
		return fmt.Errorf("storage: %q does not carry a batch_id__document_id name", name)
	}

	var destKeyBase string
	destPrefix := s3PrefixFailed
	if outcome == pipeline.OutcomeSucceeded {
		destPrefix = s3PrefixProcessed
		destKeyBase = fmt.Sprintf("%s/%s", destPrefix, rest)
	} else {
		destKeyBase = fmt.Sprintf("%s/%s%s%s", destPrefix, batchID, batchPrefixSep, rest)
	}

	destKey, err := s.uniqueKey(ctx, destKeyBase)
	if err != nil {
		return err
	}

	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(destKey),
		CopySource: aws.String(s.bucket + "/" + sourcePath),
	}); err != nil {
		return fmt.Errorf("copying %s to %s: %w", sourcePath, destKey, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(sourcePath),
	}); err != nil {
		return fmt.Errorf("removing %s after copy: %w", sourcePath, err)
	}
	return nil
}

// uniqueKey appends a monotonic _N suffix to the name portion of key
// until HeadObject reports the candidate doesn't exist. HeadObject never
// returns the modeled *types.NoSuchKey exception GetObject does on a
// missing key, since a HEAD response carries no body to model an
// exception shape from — it surfaces a missing key as a generic,
// unmodeled error instead. So any error here (short of a call that
// genuinely can't be made, which isn't distinguishable through this
// client interface) is treated as "the candidate is free."
func (s *S3FileStore) uniqueKey(ctx context.Context, key string) (string, error) {
	dir := filepath.Dir(key)
	ext := filepath.Ext(key)
	stem := strings.TrimSuffix(filepath.Base(key), ext)

	candidate := key
	for i := 1; ; i++ {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(candidate)})
		if err != nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s/%s_%d%s", dir, stem, i, ext)
	}
}

// CollectFailed lists every key under failed/, optionally filtered to one
// batch's keys. An empty batchID returns every failed document across all
// batches, the unfiltered mode a retry-all-batches UI would need.
func (s *S3FileStore) CollectFailed(ctx context.Context, batchID string) ([]string, error) {
	if batchID == "" {
		return s.listPrefix(ctx, s3PrefixFailed+"/")
	}
	return s.listPrefixed(ctx, s3PrefixFailed, batchID)
}

// listPrefixed lists keys under dirPrefix/ whose name starts with
// "batchID__".
func (s *S3FileStore) listPrefixed(ctx context.Context, dirPrefix, batchID string) ([]string, error) {
	keys, err := s.listPrefix(ctx, fmt.Sprintf("%s/%s%s", dirPrefix, batchID, batchPrefixSep))
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *S3FileStore) listPrefix(ctx context.Context, prefix string) ([]string, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key != nil {
			keys = append(keys, *obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ pipeline.FileStore = (*S3FileStore)(nil)
