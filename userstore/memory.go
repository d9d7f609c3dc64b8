package userstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrEthical07/authcore"
)

var ErrDuplicateEmail = errors.New("email already registered")

// Memory keeps users in process memory. Records are copied on the way in
// and out.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]authcore.UserRecord
	idByKey map[string]string
}

var _ authcore.UserProvider = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		byID:    map[string]authcore.UserRecord{},
		idByKey: map[string]string{},
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Put inserts or replaces u. A different user already holding the email is
// rejected.
func (m *Memory) Put(u authcore.UserRecord) error {
	if u.UserID == "" || emailKey(u.Email) == "" {
		return errors.New("user id and email are required")
	}
	key := emailKey(u.Email)

	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.idByKey[key]; ok && owner != u.UserID {
		return ErrDuplicateEmail
	}
	if prev, ok := m.byID[u.UserID]; ok {
		delete(m.idByKey, emailKey(prev.Email))
	}
	m.byID[u.UserID] = clone(u)
	m.idByKey[key] = u.UserID
	return nil
}

// SetStatus changes the account status of userID.
func (m *Memory) SetStatus(userID string, status authcore.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.Status = status
	m.byID[userID] = u
	return nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (authcore.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idByKey[emailKey(email)]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *Memory) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return clone(u), nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = newHash
	m.byID[userID] = u
	return nil
}

func clone(u authcore.UserRecord) authcore.UserRecord {
	u.Roles = append([]string(nil), u.Roles...)
	u.TOTPSecret = append([]byte(nil), u.TOTPSecret...)
	return u
}
