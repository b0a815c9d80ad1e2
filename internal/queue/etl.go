package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
)

const ETLQueue = "etl_queue"

// ETLJob asks a worker to project one batch.
type ETLJob struct {
	Prefix     string    `json:"prefix"`
	Vectors    bool      `json:"vectors"`
	Graph      bool      `json:"graph"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func DecodeETLJob(body []byte) (ETLJob, error) {
	var job ETLJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("%w: etl job: %v", common.ErrInvalidInput, err)
	}
	job.Prefix = strings.TrimSuffix(strings.TrimSpace(job.Prefix), "/")
	if job.Prefix == "" {
		return job, fmt.Errorf("%w: etl job without prefix", common.ErrInvalidInput)
	}
	if !job.Graph && !job.Vectors {
		job.Graph = true
	}
	return job, nil
}

func PublishETL(ctx context.Context, ch Publisher, job ETLJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := PublishFIFO(ctx, ch, ETLQueue, data); err != nil {
		return fmt.Errorf("publish etl job: %w", err)
	}
	logger.Info("[Queue] Enqueued ETL job", "prefix", job.Prefix, "graph", job.Graph, "vectors", job.Vectors)
	return nil
}
