package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	aiRespond "TradeRAG/internal/modules/ai/application/dto/respond"
	"TradeRAG/internal/modules/ai/application/service"
	"TradeRAG/internal/modules/ai/domain/job"
	"TradeRAG/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MarketIngester 调度器只依赖行情入库入口
type MarketIngester interface {
	RunMarketIngest(ctx context.Context, trigger string) (*aiRespond.IngestRespond, error)
}

type Options struct {
	IntervalMinutes int
	RunOnStart      bool // 首次 Start 时在后台补跑一次
}

// SchedulerManager 周期触发行情入库。
// 注册以任务标识为键，重复 Start 不会产生第二个定时器。
type SchedulerManager struct {
	cron *cron.Cron
	svc  MarketIngester
	opts Options

	mu        sync.Mutex
	scheduled map[string]cron.EntryID
	running   bool
	bg        sync.WaitGroup
}

func NewSchedulerManager(svc MarketIngester, opts Options) *SchedulerManager {
	if opts.IntervalMinutes <= 0 {
		opts.IntervalMinutes = 15
	}
	logger := cronLogger{}
	return &SchedulerManager{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		svc:       svc,
		opts:      opts,
		scheduled: make(map[string]cron.EntryID),
	}
}

// Start 非阻塞；任务在 cron 的 goroutine 中执行
func (m *SchedulerManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 已注册：不重复注册，Stop 之后只需重新启动 cron
	if id, ok := m.scheduled[job.JobIDMarketIngest]; ok {
		if !m.running {
			m.cron.Start()
			m.running = true
			zlog.Info("scheduler restarted", zap.String("job_id", job.JobIDMarketIngest), zap.Int("entry_id", int(id)))
			return nil
		}
		zlog.Info("scheduler already registered", zap.String("job_id", job.JobIDMarketIngest), zap.Int("entry_id", int(id)))
		return nil
	}

	spec := fmt.Sprintf("@every %dm", m.opts.IntervalMinutes)
	id, err := m.cron.AddFunc(spec, func() { m.runOnce(job.TriggerSchedule) })
	if err != nil {
		return fmt.Errorf("register %s: %w", job.JobIDMarketIngest, err)
	}
	m.scheduled[job.JobIDMarketIngest] = id

	if !m.running {
		m.cron.Start()
		m.running = true
	}
	if m.opts.RunOnStart {
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			m.runOnce(job.TriggerStartup)
		}()
	}
	zlog.Info("scheduler started", zap.String("job_id", job.JobIDMarketIngest), zap.String("spec", spec))
	return nil
}

// Stop 停止触发并等待正在执行的任务结束；注册保留，之后可再次 Start
func (m *SchedulerManager) Stop() {
	m.mu.Lock()
	running := m.running
	m.running = false
	m.mu.Unlock()

	if running {
		<-m.cron.Stop().Done()
	}
	m.bg.Wait()
	zlog.Info("scheduler stopped")
}

// Running cron 是否在触发
func (m *SchedulerManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Entries 当前已注册的定时任务数
func (m *SchedulerManager) Entries() int {
	return len(m.cron.Entries())
}

// runOnce 失败只记录日志，下一个周期自然重试
func (m *SchedulerManager) runOnce(trigger string) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("scheduled ingest panic", zap.String("trigger", trigger), zap.Any("panic", r))
		}
	}()
	start := time.Now()
	res, err := m.svc.RunMarketIngest(context.Background(), trigger)
	switch {
	case service.IsBusy(err):
		zlog.Info("scheduled ingest skipped", zap.String("trigger", trigger))
	case err != nil:
		zlog.Error("scheduled ingest failed", zap.String("trigger", trigger), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	default:
		zlog.Info("scheduled ingest done", zap.String("trigger", trigger), zap.String("run_id", res.RunID), zap.Int("inserted", res.Inserted))
	}
}

// cronLogger 把 cron 内部日志转到 zlog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	zlog.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zlog.Error("cron: "+msg, append(kvFields(keysAndValues), zap.Error(err))...)
}

func kvFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}
