package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// MemoryStore 内存实现（DB 未启用时的开发/联测后备，同时用于单元测试）。
// Subject 与 Session 共用一把锁，StartSession 的 cleanup + 创建在同一临界区内完成。
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[string]domain.Subject // subjectID -> Subject
	sessions map[string]domain.Session // sessionID -> Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects: map[string]domain.Subject{},
		sessions: map[string]domain.Session{},
	}
}

// 确保实现了接口
var (
	_ SessionsRepo = (*MemoryStore)(nil)
	_ SubjectsRepo = (*MemoryStore)(nil)
)

func (m *MemoryStore) StartSession(_ context.Context, subject *domain.Subject, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	// cleanup-on-start：旧 Subject 下线
	for id, s := range m.subjects {
		if s.KioskID == subject.KioskID && s.IsActive {
			s.IsActive = false
			s.UpdatedAt = now
			m.subjects[id] = s
		}
	}
	// 非终态旧会话标记 completed（废弃）
	for id, s := range m.sessions {
		if s.KioskID == session.KioskID && !s.Status.Terminal() {
			s.Status = domain.StatusCompleted
			s.UpdatedAt = now
			m.sessions[id] = s
		}
	}

	m.subjects[subject.SubjectID] = *subject
	m.sessions[session.SessionID] = *session
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := s
	out.Readings = append([]domain.Reading(nil), s.Readings...)
	return &out, nil
}

func (m *MemoryStore) ListNonTerminalByKiosk(_ context.Context, kioskID string) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Session
	for _, s := range m.sessions {
		if s.KioskID == kioskID && !s.Status.Terminal() {
			cp := s
			cp.Readings = append([]domain.Reading(nil), s.Readings...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) LatestDeliverable(_ context.Context, kioskID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.Session
	for _, s := range m.sessions {
		if s.KioskID != kioskID || s.Status != domain.StatusApproved ||
			s.CommandExecuted || s.Command == domain.CommandNone {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			cp := s
			latest = &cp
		}
	}
	return latest, nil
}

func (m *MemoryStore) AppendReading(_ context.Context, sessionID string, reading domain.Reading, from, to domain.SessionStatus, predicted *domain.Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status != from {
		return domain.ErrConflict
	}
	s.Readings = append(s.Readings, reading)
	s.Status = to
	if predicted != nil {
		s.PredictedLabel = *predicted
	}
	s.UpdatedAt = time.Now()
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) UpdateSessionStatus(_ context.Context, sessionID string, from domain.SessionStatus, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status != from {
		return domain.ErrConflict
	}
	for field, value := range updates {
		switch field {
		case "status":
			if v, ok := value.(domain.SessionStatus); ok {
				s.Status = v
			}
		case "predicted_label":
			if v, ok := value.(domain.Label); ok {
				s.PredictedLabel = v
			}
		case "approved_label":
			if v, ok := value.(domain.Label); ok {
				s.ApprovedLabel = v
			}
		case "command":
			if v, ok := value.(domain.Command); ok {
				s.Command = v
			}
		case "command_executed":
			if v, ok := value.(bool); ok {
				s.CommandExecuted = v
			}
		default:
			return domain.ErrValidation
		}
	}
	s.UpdatedAt = time.Now()
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, reviewerID, filter string) ([]*domain.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter))

	var out []*domain.SessionSummary
	for _, s := range m.sessions {
		if s.ReviewerID != reviewerID {
			continue
		}
		name := ""
		if subj, ok := m.subjects[s.SubjectID]; ok {
			name = subj.Name
		}
		sum := &domain.SessionSummary{
			SessionID:      s.SessionID,
			KioskID:        s.KioskID,
			SubjectName:    name,
			PredictedLabel: s.PredictedLabel,
			ApprovedLabel:  s.ApprovedLabel,
			Status:         s.Status,
			Command:        s.Command,
			CreatedAt:      s.CreatedAt,
		}
		if needle != "" && !summaryMatches(sum, needle) {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// summaryMatches 大小写不敏感子串匹配（姓名 / kiosk / 标签 / 状态）
func summaryMatches(s *domain.SessionSummary, needle string) bool {
	for _, field := range []string{
		s.SubjectName,
		s.KioskID,
		string(s.PredictedLabel),
		string(s.ApprovedLabel),
		string(s.Status),
	} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID, reviewerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.ReviewerID != reviewerID {
		return domain.ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) GetSubject(_ context.Context, subjectID string) (*domain.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subjects[subjectID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := s
	return &out, nil
}

func (m *MemoryStore) ActiveSubjectByKiosk(_ context.Context, kioskID string) (*domain.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subjects {
		if s.KioskID == kioskID && s.IsActive {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) DeactivateSubject(_ context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subjects[subjectID]
	if !ok {
		return domain.ErrNotFound
	}
	s.IsActive = false
	s.UpdatedAt = time.Now()
	m.subjects[subjectID] = s
	return nil
}
