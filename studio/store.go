package studio

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/session"
)

// Store 内存中的会话表，空闲超时的会话由定时任务清理
type Store struct {
	logger     *zap.Logger
	idleTTL    time.Duration
	exportName string
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func NewStore(idleTTL time.Duration, exportName string, logger *zap.Logger) *Store {
	return &Store{
		logger:     logger.Named("session_store"),
		idleTTL:    idleTTL,
		exportName: exportName,
		now:        time.Now,
		sessions:   make(map[string]*session.Session),
	}
}

// Create 新建一个空会话
func (s *Store) Create() *session.Session {
	sess := session.New(s.logger, session.WithExportName(s.exportName), session.WithClock(s.now))

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	s.logger.Debug("session created", zap.String("session_id", sess.ID()))
	return sess
}

func (s *Store) Get(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete 重置并移除会话
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Reset()
	}
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep 清理空闲超过 idleTTL 的会话，返回清理数量；正在抠图的会话跳过
func (s *Store) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	deadline := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var expired []*session.Session
	for id, sess := range s.sessions {
		since, idle := sess.IdleSince()
		if idle && since.Before(deadline) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Reset()
		s.logger.Debug("session expired", zap.String("session_id", sess.ID()))
	}
	return len(expired)
}

// StartSweeper 按 cron 表达式定时 Sweep，返回的 cron 由调用方 Stop
func (s *Store) StartSweeper(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if n := s.Sweep(); n > 0 {
			s.logger.Info("idle sessions released", zap.Int("count", n), zap.Int("remaining", s.Len()))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
