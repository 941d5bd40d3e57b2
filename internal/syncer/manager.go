package syncer

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SourceStatus 记录每个源最近一次同步的概况，供诊断接口展示。
type SourceStatus struct {
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Kind        string    `json:"kind"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	Outcome     Outcome   `json:"outcome,omitempty"`
	Records     int       `json:"records"`
	RemoteSize  int64     `json:"remote_size"`
	RunID       string    `json:"run_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ManagerConfig 描述轮询同步的参数。
type ManagerConfig struct {
	Synchronizer *Synchronizer
	Sources      []Source
	PollInterval time.Duration
	Debounce     time.Duration
	Logger       *logrus.Logger
}

// Manager 周期性同步所有源，也可以通过 Trigger 手动触发（带防抖）。
type Manager struct {
	syncer       *Synchronizer
	sources      []Source
	pollInterval time.Duration
	debounce     time.Duration
	logger       *logrus.Logger
	now          func() time.Time

	triggerChan chan struct{}
	mu          sync.Mutex
	lastSync    time.Time
	syncing     bool
	status      map[string]SourceStatus
}

// NewManager 创建 Manager，零值参数使用默认轮询间隔与防抖时间。
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Minute
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetOutput(io.Discard)
	}

	return &Manager{
		syncer:       cfg.Synchronizer,
		sources:      append([]Source(nil), cfg.Sources...),
		pollInterval: cfg.PollInterval,
		debounce:     cfg.Debounce,
		logger:       cfg.Logger,
		now:          time.Now,
		triggerChan:  make(chan struct{}, 1),
		status:       make(map[string]SourceStatus),
	}
}

// Start 先执行一次启动同步，然后进入轮询循环，直到 ctx 结束。
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"action":        "sync_manager",
		"poll_interval": m.pollInterval.String(),
		"debounce":      m.debounce.String(),
		"sources":       len(m.sources),
	}).Info("sync manager started")

	m.doSync(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			m.logger.WithField("action", "sync_manager").Info("sync manager stopped")
			return

		case <-ticker.C:
			m.doSync(ctx, "poll")

		case <-m.triggerChan:
			m.debounceSync(ctx)
		}
	}
}

// Trigger 请求一次同步；已有待处理请求时直接忽略。
func (m *Manager) Trigger() {
	select {
	case m.triggerChan <- struct{}{}:
		m.logger.WithField("action", "sync_manager").Debug("sync triggered")
	default:
		m.logger.WithField("action", "sync_manager").Debug("sync already pending")
	}
}

// LastSyncTime 返回最近一次完成（不论单个源成败）的时间。
func (m *Manager) LastSyncTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// IsSyncing reports whether a sync round is in progress.
func (m *Manager) IsSyncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// Status 返回每个源的最新状态，按名称排序。
func (m *Manager) Status() []SourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SourceStatus, 0, len(m.status))
	for _, st := range m.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Record 将一次同步结果写入状态表，HTTP 手动同步也通过它更新状态。
func (m *Manager) Record(res SourceResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := res.Source.key()
	st := m.status[key]
	st.Name = res.Source.label()
	st.Source = res.Source.URI.String()
	st.Kind = res.Source.Kind.Label()
	st.LastAttempt = m.now()
	if res.Err != nil {
		st.Error = res.Err.Error()
	} else if res.Result != nil {
		st.Error = ""
		st.LastSuccess = st.LastAttempt
		st.Outcome = res.Result.Outcome
		st.Records = res.Result.Index.Len()
		st.RemoteSize = res.Result.RemoteSize
		st.RunID = res.Result.RunID
	}
	m.status[key] = st
}

func (m *Manager) debounceSync(ctx context.Context) {
	m.mu.Lock()
	if !m.lastSync.IsZero() && m.now().Sub(m.lastSync) < m.debounce {
		last := m.lastSync
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"action":    "sync_manager",
			"last_sync": last,
		}).Debug("sync debounced")
		return
	}
	m.mu.Unlock()

	m.doSync(ctx, "trigger")
}

func (m *Manager) doSync(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		m.logger.WithField("action", "sync_manager").Debug("sync already in progress")
		return
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	start := m.now()
	failed := 0
	for _, res := range m.syncer.SyncAll(ctx, m.sources) {
		m.Record(res)
		if res.Err != nil {
			failed++
		}
	}

	m.mu.Lock()
	m.lastSync = m.now()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"action":   "sync_manager",
		"reason":   reason,
		"sources":  len(m.sources),
		"failed":   failed,
		"duration": m.now().Sub(start).String(),
	}).Info("sync round completed")
}
