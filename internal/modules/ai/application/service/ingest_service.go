package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	aiRespond "TradeRAG/internal/modules/ai/application/dto/respond"
	"TradeRAG/internal/modules/ai/domain/job"
	aiRepo "TradeRAG/internal/modules/ai/domain/repository"
	"TradeRAG/internal/modules/ai/infrastructure/chunking"
	"TradeRAG/internal/modules/ai/infrastructure/pipeline"
	"TradeRAG/internal/modules/ai/infrastructure/reader"
	"TradeRAG/pkg/util"
	"TradeRAG/pkg/xerr"
	"TradeRAG/pkg/zlog"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Ingester 入库 Pipeline 的最小能力
type Ingester interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// RunLock 跨进程互斥（Redis）；ok=false 表示其他实例正在执行
type RunLock interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, name, token string) error
}

type IngestService interface {
	// IngestNow 立即执行一次行情入库，返回写入条数；并发调用共享同一次执行
	IngestNow(ctx context.Context) (int, error)
	// RunMarketIngest 行情入库（调度与手动共用），返回完整统计
	RunMarketIngest(ctx context.Context, trigger string) (*aiRespond.IngestRespond, error)
	// IngestDocuments 读取参考文档，切片后入库。dir 相对配置目录解析，为空时即配置目录；
	// 解析结果（含符号链接）必须落在配置目录之内
	IngestDocuments(ctx context.Context, dir string) (*aiRespond.IngestRespond, error)
	RecentRuns(ctx context.Context, limit int) ([]aiRespond.IngestRunItem, error)
}

type IngestServiceOptions struct {
	Symbols    []string
	DocsDir    string
	RunTimeout time.Duration // 单次任务上限，与调用方 ctx 的取消解耦
	LockTTL    time.Duration
}

type ingestServiceImpl struct {
	ingester Ingester
	reader   *reader.DocumentReader
	chunker  *chunking.Chunker
	runRepo  aiRepo.IngestRunRepository // 可为 nil
	lock     RunLock                    // 可为 nil
	opts     IngestServiceOptions

	sf singleflight.Group
}

// NewIngestService runRepo 与 lock 均可为 nil
func NewIngestService(ingester Ingester, rd *reader.DocumentReader, chunker *chunking.Chunker, runRepo aiRepo.IngestRunRepository, lock RunLock, opts IngestServiceOptions) IngestService {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.RunTimeout
	}
	return &ingestServiceImpl{ingester: ingester, reader: rd, chunker: chunker, runRepo: runRepo, lock: lock, opts: opts}
}

func (s *ingestServiceImpl) IngestNow(ctx context.Context) (int, error) {
	res, err := s.RunMarketIngest(ctx, job.TriggerManual)
	if res == nil {
		return 0, err
	}
	return res.Inserted, err
}

func (s *ingestServiceImpl) RunMarketIngest(ctx context.Context, trigger string) (*aiRespond.IngestRespond, error) {
	if !job.IsValidTrigger(trigger) {
		return nil, xerr.New(xerr.BadRequest, "invalid trigger: "+trigger)
	}
	if s == nil || s.ingester == nil {
		return nil, xerr.ErrServerError
	}
	return s.do(ctx, job.JobIDMarketIngest, job.JobIDMarketIngest, pipeline.IngestRequest{
		Trigger: trigger,
		Symbols: s.opts.Symbols,
	})
}

func (s *ingestServiceImpl) IngestDocuments(ctx context.Context, dir string) (*aiRespond.IngestRespond, error) {
	if s == nil || s.ingester == nil || s.reader == nil || s.chunker == nil {
		return nil, xerr.ErrServerError
	}
	abs, err := resolveDocsDir(s.opts.DocsDir, dir)
	if err != nil {
		return nil, err
	}

	docs, err := s.reader.Read(ctx, abs)
	if err != nil {
		return nil, xerr.New(xerr.BadRequest, fmt.Sprintf("read docs: %v", err))
	}
	chunks, err := s.chunker.Split(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("split docs: %w", err)
	}
	zlog.Info("docs loaded", zap.String("dir", abs), zap.Int("files", len(docs)), zap.Int("chunks", len(chunks)))

	return s.do(ctx, "docs:"+abs, job.JobIDDocsIngest, pipeline.IngestRequest{
		Trigger:   job.TriggerDocs,
		Documents: chunking.Texts(chunks),
	})
}

// resolveDocsDir 把 dir 解析到 root 之下的真实路径，越界返回 ErrDocsOutside
func resolveDocsDir(root, dir string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", xerr.New(xerr.BadRequest, "docs dir not configured")
	}
	rootReal, err := realPath(root)
	if err != nil {
		return "", xerr.New(xerr.BadRequest, fmt.Sprintf("docs root: %v", err))
	}

	target := rootReal
	if dir = strings.TrimSpace(dir); dir != "" {
		if filepath.IsAbs(dir) {
			target = filepath.Clean(dir)
		} else {
			target = filepath.Join(rootReal, dir)
		}
	}
	targetReal, err := realPath(target)
	if err != nil {
		return "", xerr.New(xerr.BadRequest, fmt.Sprintf("docs dir: %v", err))
	}

	rel, err := filepath.Rel(rootReal, targetReal)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", xerr.ErrDocsOutside
	}
	return targetReal, nil
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func (s *ingestServiceImpl) RecentRuns(ctx context.Context, limit int) ([]aiRespond.IngestRunItem, error) {
	if s.runRepo == nil {
		return nil, xerr.ErrNoHistory
	}
	runs, err := s.runRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]aiRespond.IngestRunItem, 0, len(runs))
	for _, r := range runs {
		out = append(out, aiRespond.IngestRunItem{
			RunID:      r.RunID,
			JobID:      r.JobID,
			Trigger:    r.Trigger,
			Status:     job.StatusName(r.Status),
			Symbols:    r.Symbols,
			Facts:      r.Facts,
			Documents:  r.Documents,
			NewTexts:   r.NewTexts,
			Inserted:   r.Inserted,
			Summary:    r.Summary,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}
	return out, nil
}

// do 同 key 的并发调用合并为一次执行；执行使用独立 ctx，调用方断开不会中断进行中的任务
func (s *ingestServiceImpl) do(ctx context.Context, key, jobID string, req pipeline.IngestRequest) (*aiRespond.IngestRespond, error) {
	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RunTimeout)
		defer cancel()
		return s.run(runCtx, jobID, req)
	})
	res, _ := v.(*pipeline.IngestResult)
	if res == nil {
		return nil, err
	}
	out := toIngestRespond(res)
	out.Shared = shared
	return out, err
}

func (s *ingestServiceImpl) run(ctx context.Context, jobID string, req pipeline.IngestRequest) (*pipeline.IngestResult, error) {
	req.RunID = util.NewRunID(jobID, time.Now())

	if s.lock != nil {
		token, ok, err := s.lock.TryLock(ctx, jobID, s.opts.LockTTL)
		switch {
		case err != nil:
			// Redis 不可用时不阻塞入库，重复写入由文本去重吸收
			zlog.Warn("ingest lock unavailable, continue without lock", zap.String("job_id", jobID), zap.Error(err))
		case !ok:
			zlog.Info("ingest skipped: running on another instance", zap.String("job_id", jobID), zap.String("trigger", req.Trigger))
			return nil, xerr.ErrIngestBusy
		default:
			defer func() {
				if err := s.lock.Unlock(context.WithoutCancel(ctx), jobID, token); err != nil {
					zlog.Warn("ingest unlock failed", zap.String("job_id", jobID), zap.Error(err))
				}
			}()
		}
	}

	record := s.startRecord(ctx, jobID, req)
	res, err := s.ingester.Ingest(ctx, req)
	s.finishRecord(ctx, record, res, err)
	return res, err
}

func (s *ingestServiceImpl) startRecord(ctx context.Context, jobID string, req pipeline.IngestRequest) *job.AIIngestRun {
	if s.runRepo == nil {
		return nil
	}
	run := &job.AIIngestRun{
		RunID:     req.RunID,
		JobID:     jobID,
		Trigger:   req.Trigger,
		Status:    job.JobStatusRunning,
		Symbols:   len(req.Symbols),
		StartedAt: time.Now(),
	}
	if err := s.runRepo.CreateRun(ctx, run); err != nil {
		zlog.Warn("ingest run history create failed", zap.String("run_id", req.RunID), zap.Error(err))
		return nil
	}
	return run
}

func (s *ingestServiceImpl) finishRecord(ctx context.Context, run *job.AIIngestRun, res *pipeline.IngestResult, err error) {
	if run == nil {
		return
	}
	now := time.Now()
	run.FinishedAt = &now
	run.Status = job.JobStatusCompleted
	if res != nil {
		run.Symbols = res.Symbols
		run.Facts = res.Facts
		run.Documents = res.Documents
		run.NewTexts = res.NewTexts
		run.Inserted = res.Inserted
		if len(res.FailedEPs) > 0 {
			run.Summary = truncate("failed endpoints: "+strings.Join(res.FailedEPs, ","), 2000)
		}
	}
	if err != nil {
		run.Status = job.JobStatusFailed
		run.Summary = truncate(err.Error(), 2000)
	}
	if ferr := s.runRepo.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		zlog.Warn("ingest run history finish failed", zap.String("run_id", run.RunID), zap.Error(ferr))
	}
}

func toIngestRespond(res *pipeline.IngestResult) *aiRespond.IngestRespond {
	return &aiRespond.IngestRespond{
		RunID:           res.RunID,
		Trigger:         res.Trigger,
		Collection:      res.Collection,
		Symbols:         res.Symbols,
		Facts:           res.Facts,
		Documents:       res.Documents,
		Skipped:         res.Skipped,
		NewTexts:        res.NewTexts,
		Inserted:        res.Inserted,
		Published:       res.Published,
		FailedEndpoints: res.FailedEPs,
		DurationMs:      res.DurationMs,
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// IsBusy 任务在其他实例执行中（调度器据此降级为 info 日志）
func IsBusy(err error) bool {
	return errors.Is(err, xerr.ErrIngestBusy)
}
