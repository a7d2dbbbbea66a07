// Package archive exports finished reconciliation Jobs to Parquet files on
// object storage once their retention window has passed.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storageAdapter "github.com/tigerroll/famsync/pkg/sync/adaptor/storage"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// JobStore is the slice of the repository the archiver needs.
type JobStore interface {
	ListFinishedJobs(ctx context.Context, before time.Time, limit int) ([]*model.Job, error)
	ErrorMessagesByJob(ctx context.Context, jobID string) ([]string, error)
}

// JobArchiveRecord is one exported row. Timestamps are epoch milliseconds.
type JobArchiveRecord struct {
	ID            string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	MessageID     string  `parquet:"name=message_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Key           string  `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8"`
	State         string  `parquet:"name=state, type=BYTE_ARRAY, convertedtype=UTF8"`
	ElapsedTime   float64 `parquet:"name=elapsed_time, type=DOUBLE"`
	ErrorMessages string  `parquet:"name=error_messages, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreateTime    int64   `parquet:"name=create_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	LastUpdated   int64   `parquet:"name=last_updated, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// Archiver exports finished Jobs as Parquet files.
type Archiver struct {
	jobs  JobStore
	store storageAdapter.StorageConnection
	cfg   config.ArchiveConfig
}

// NewArchiver creates an archiver over the given job store and storage
// connection.
func NewArchiver(jobs JobStore, store storageAdapter.StorageConnection, cfg config.ArchiveConfig) *Archiver {
	return &Archiver{jobs: jobs, store: store, cfg: cfg}
}

// Run exports one batch of finished Jobs older than the retention window and
// reports how many were archived.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	const op = "archive.Archiver.Run"

	if !a.cfg.Enabled {
		return 0, nil
	}

	cutoff := time.Now().Add(-time.Duration(a.cfg.RetentionHours) * time.Hour)
	jobs, err := a.jobs.ListFinishedJobs(ctx, cutoff, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to list finished jobs: %w", op, err)
	}
	if len(jobs) == 0 {
		logger.Debugf("Archive: no finished jobs older than %s.", cutoff.Format(time.RFC3339))
		return 0, nil
	}

	records := make([]JobArchiveRecord, 0, len(jobs))
	for _, job := range jobs {
		rec, err := a.toRecord(ctx, job)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, rec)
	}

	data, err := encodeParquet(records)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	objectName := fmt.Sprintf("dt=%s/jobs_%s.parquet", now.Format("2006-01-02"), now.Format("150405"))
	if a.cfg.Prefix != "" {
		objectName = strings.TrimRight(a.cfg.Prefix, "/") + "/" + objectName
	}
	if err := a.store.Upload(ctx, a.cfg.Bucket, objectName, bytes.NewReader(data), "application/x-parquet"); err != nil {
		return 0, fmt.Errorf("%s: failed to upload parquet file '%s': %w", op, objectName, err)
	}

	logger.Infof("Archive: exported %d finished jobs to '%s' (%d bytes).", len(records), objectName, len(data))
	return len(records), nil
}

func (a *Archiver) toRecord(ctx context.Context, job *model.Job) (JobArchiveRecord, error) {
	rec := JobArchiveRecord{
		ID:          job.ID,
		MessageID:   job.MessageID,
		Key:         job.Key,
		CreateTime:  job.CreateTime.UnixMilli(),
		LastUpdated: job.LastUpdated.UnixMilli(),
	}
	if job.Status != nil {
		rec.State = string(job.Status.LatestState)
		rec.ElapsedTime = job.Status.ElapsedTime
	}
	msgs, err := a.jobs.ErrorMessagesByJob(ctx, job.ID)
	if err != nil {
		return rec, fmt.Errorf("failed to collect error messages for job '%s': %w", job.ID, err)
	}
	rec.ErrorMessages = strings.Join(msgs, "; ")
	return rec, nil
}

// encodeParquet writes the records into an in-memory Parquet file with
// Snappy compression. WriteStop can panic inside the parquet library, so the
// encode is shielded with a recover.
func encodeParquet(records []JobArchiveRecord) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet encoding panicked: %v", r)
		}
	}()

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(JobArchiveRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range records {
		if err := pw.Write(records[i]); err != nil {
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return buf.Bytes(), nil
}
