// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store holds the dev backend's in-memory state: users, tokens,
// chat sessions and messages.
//
// It mirrors the persistence rules of the production backend closely
// enough for client tests: sessions are owned by one user and ordered by
// last update, access tokens expire quickly, refresh tokens rotate on use,
// and a session keeps its default title until the first exchange.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the title of a session nobody has named yet.
const DefaultTitle = "New Chat"

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrNotFound     = errors.New("not found")
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
	ErrUnknownEra   = errors.New("unknown era")
)

// Eras is the fixed era table sessions may reference.
var Eras = map[int64]string{
	1: "Apostolic Age",
	2: "Age of the Fathers",
	3: "Imperial Church",
	4: "Medieval Christendom",
	5: "Reformation",
	6: "Modern Era",
}

type User struct {
	ID          int64
	Email       string
	Username    string
	DisplayName string
	AvatarURL   string
	DateJoined  time.Time
}

type Session struct {
	ID         int64
	UserID     int64
	Title      string
	EraID      *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	IsArchived bool
}

// EraName returns the name of the session's era, or "" if it has none.
func (s Session) EraName() string {
	if s.EraID == nil {
		return ""
	}
	return Eras[*s.EraID]
}

type Citation struct {
	Title      string
	URL        string
	SourceName string
}

type Message struct {
	ID        int64
	SessionID int64
	Role      string
	Content   string
	CreatedAt time.Time
	Citations []Citation
}

// SessionPatch carries a partial session update. Nil fields are untouched.
type SessionPatch struct {
	Title      *string
	IsArchived *bool
}

type token struct {
	userID  int64
	expires time.Time
}

// Options configures a Store.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// Store is the dev backend state. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration

	users    map[int64]*User
	access   map[string]token
	refresh  map[string]token
	sessions map[int64]*Session
	messages map[int64][]*Message

	nextUserID    int64
	nextSessionID int64
	nextMessageID int64
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		now:        opts.Now,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		users:      make(map[int64]*User),
		access:     make(map[string]token),
		refresh:    make(map[string]token),
		sessions:   make(map[int64]*Session),
		messages:   make(map[int64][]*Message),
	}
}

// =============================================================================
// Users and tokens
// =============================================================================

// AddUser registers a user.
func (s *Store) AddUser(email, displayName string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u := &User{
		ID:          s.nextUserID,
		Email:       email,
		Username:    strings.SplitN(email, "@", 2)[0],
		DisplayName: displayName,
		DateJoined:  s.now().UTC(),
	}
	s.users[u.ID] = u
	return *u
}

// IssueTokens creates a fresh access/refresh pair for userID.
func (s *Store) IssueTokens(userID int64) (access, refresh string, err error) {
	access, refresh = newToken(), newToken()
	return access, refresh, s.SeedTokens(userID, access, refresh)
}

// SeedTokens registers caller-chosen tokens for userID, so a developer
// can start the backend with known credentials. Empty values are skipped.
func (s *Store) SeedTokens(userID int64, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	now := s.now()
	if access != "" {
		s.access[access] = token{userID: userID, expires: now.Add(s.accessTTL)}
	}
	if refresh != "" {
		s.refresh[refresh] = token{userID: userID, expires: now.Add(s.refreshTTL)}
	}
	return nil
}

// Authenticate resolves an access token to its user.
func (s *Store) Authenticate(access string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.access[access]
	if !ok {
		return User{}, ErrTokenInvalid
	}
	if !s.now().Before(t.expires) {
		delete(s.access, access)
		return User{}, ErrTokenExpired
	}
	u, ok := s.users[t.userID]
	if !ok {
		return User{}, ErrTokenInvalid
	}
	return *u, nil
}

// Refresh exchanges a refresh token for a new access token and a rotated
// refresh token. The old refresh token stops working.
func (s *Store) Refresh(refresh string) (newAccess, newRefresh string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[refresh]
	if !ok {
		return "", "", ErrTokenInvalid
	}
	delete(s.refresh, refresh)
	now := s.now()
	if !now.Before(t.expires) {
		return "", "", ErrTokenExpired
	}
	newAccess, newRefresh = newToken(), newToken()
	s.access[newAccess] = token{userID: t.userID, expires: now.Add(s.accessTTL)}
	s.refresh[newRefresh] = token{userID: t.userID, expires: now.Add(s.refreshTTL)}
	return newAccess, newRefresh, nil
}

// ExpireAccessTokens invalidates every access token, forcing clients
// through the refresh path on their next request.
func (s *Store) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]token)
}

// Revoke drops the given tokens. Unknown tokens are ignored.
func (s *Store) Revoke(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, access)
	delete(s.refresh, refresh)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// =============================================================================
// Sessions
// =============================================================================

// ListSessions returns one page of userID's sessions, most recently
// updated first, and the total count. Pages start at 1.
func (s *Store) ListSessions(userID int64, page, pageSize int) ([]Session, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			all = append(all, *sess)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	start := (page - 1) * pageSize
	if page < 1 || start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total
}

// CreateSession creates a session. An empty title becomes DefaultTitle.
func (s *Store) CreateSession(userID int64, title string, eraID *int64) (Session, error) {
	if eraID != nil {
		if _, ok := Eras[*eraID]; !ok {
			return Session{}, ErrUnknownEra
		}
	}
	if title == "" {
		title = DefaultTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	now := s.now().UTC()
	sess := &Session{
		ID:        s.nextSessionID,
		UserID:    userID,
		Title:     title,
		EraID:     eraID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

// GetSession returns session id if userID owns it.
func (s *Store) GetSession(userID, id int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.ownedLocked(userID, id)
	if err != nil {
		return Session{}, err
	}
	return *sess, nil
}

// UpdateSession applies patch to a session userID owns.
func (s *Store) UpdateSession(userID, id int64, patch SessionPatch) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.ownedLocked(userID, id)
	if err != nil {
		return Session{}, err
	}
	if patch.Title != nil {
		sess.Title = *patch.Title
	}
	if patch.IsArchived != nil {
		sess.IsArchived = *patch.IsArchived
	}
	sess.UpdatedAt = s.now().UTC()
	return *sess, nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ownedLocked(userID, id); err != nil {
		return err
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// AssignTitle names a session that still has DefaultTitle. It reports
// whether the title changed.
func (s *Store) AssignTitle(sessionID int64, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Title != DefaultTitle || title == "" {
		return false
	}
	sess.Title = title
	return true
}

func (s *Store) ownedLocked(userID, id int64) (*Session, error) {
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, ErrNotFound
	}
	return sess, nil
}

// =============================================================================
// Messages
// =============================================================================

// ListMessages returns the messages of a session userID owns, oldest
// first. A session the user does not own yields an empty list, as the
// production backend filters rather than rejects.
func (s *Store) ListMessages(userID, sessionID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ownedLocked(userID, sessionID); err != nil {
		return []Message{}
	}
	out := make([]Message, 0, len(s.messages[sessionID]))
	for _, m := range s.messages[sessionID] {
		cp := *m
		cp.Citations = append([]Citation(nil), m.Citations...)
		out = append(out, cp)
	}
	return out
}

// MessageCount returns the number of messages in a session.
func (s *Store) MessageCount(sessionID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[sessionID])
}

// AppendMessage persists a message and bumps the session's update time.
func (s *Store) AppendMessage(sessionID int64, role, content string, citations []Citation) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Message{}, ErrNotFound
	}
	s.nextMessageID++
	now := s.now().UTC()
	m := &Message{
		ID:        s.nextMessageID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		Citations: append([]Citation(nil), citations...),
	}
	s.messages[sessionID] = append(s.messages[sessionID], m)
	sess.UpdatedAt = now
	return *m, nil
}
