package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sakaibot/internal/backends/image"
	"sakaibot/internal/backends/tts"
	"sakaibot/internal/domain/jobqueue"
)

// lanePollInterval is how often an idle lane checks for new work, and how
// often a caller awaiting a submitted job's completion polls its status.
const lanePollInterval = 500 * time.Millisecond

// imageResult is the payload stored on a completed image-lane Job.
type imageResult struct {
	Data        []byte
	ContentType string
}

// Start launches the background worker loop for every configured lane
// (Flux, SDXL, TTS). Call once at startup; each lane's Run blocks until
// ctx is cancelled, so this launches one goroutine per configured lane.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.cfg.FluxGen != nil && d.cfg.FluxLane != nil {
		go d.cfg.FluxLane.Run(ctx, lanePollInterval, d.imageProcessor(d.cfg.FluxGen))
	}
	if d.cfg.SDXLGen != nil && d.cfg.SDXLLane != nil {
		go d.cfg.SDXLLane.Run(ctx, lanePollInterval, d.imageProcessor(d.cfg.SDXLGen))
	}
	if d.cfg.TTSProvider != nil && d.cfg.TTSLane != nil {
		go d.cfg.TTSLane.Run(ctx, lanePollInterval, d.ttsProcessor())
	}
}

func (d *Dispatcher) imageProcessor(gen image.Generator) func(context.Context, jobqueue.Job) (any, error) {
	return func(ctx context.Context, job jobqueue.Job) (any, error) {
		prompt, _ := job.Payload.(string)
		data, contentType, err := gen.Generate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", gen.Name(), err)
		}
		return imageResult{Data: data, ContentType: contentType}, nil
	}
}

func (d *Dispatcher) ttsProcessor() func(context.Context, jobqueue.Job) (any, error) {
	return func(ctx context.Context, job jobqueue.Job) (any, error) {
		params, _ := job.Payload.(tts.Params)
		path, err := d.cfg.TTSProvider.Synthesize(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("tts: %w", err)
		}
		return path, nil
	}
}

// awaitJob polls lane for id's completion, invoking onPosition whenever the
// job is still pending at a new queue position. Returns the job's final
// state once it leaves Pending/Processing.
func awaitJob(ctx context.Context, lane *jobqueue.Lane, id string, onPosition func(pos int)) (jobqueue.Job, error) {
	ticker := time.NewTicker(lanePollInterval)
	defer ticker.Stop()

	lastPos := -1
	for {
		select {
		case <-ctx.Done():
			return jobqueue.Job{}, ctx.Err()
		case <-ticker.C:
		}

		job, ok := lane.Job(id)
		if !ok {
			return jobqueue.Job{}, fmt.Errorf("job %s disappeared from lane", id)
		}
		switch job.Status {
		case jobqueue.StatusCompleted, jobqueue.StatusFailed:
			return job, nil
		case jobqueue.StatusPending:
			if pos := lane.Position(id); pos != lastPos {
				lastPos = pos
				onPosition(pos)
			}
		}
	}
}

// logWaitFailure is a small helper kept separate so media.go call sites
// read as one-liners.
func logWaitFailure(log *zap.Logger, err error) {
	log.Warn("await job failed", zap.Error(err))
}
