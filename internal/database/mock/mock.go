// Package mock provides in-memory implementations of database interfaces for testing
// and for running the service without PostgreSQL.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/facematch"
)

// Store is an in-memory implementation of every database store interface.
// The Err fields inject failures into the matching operation.
type Store struct {
	mu sync.RWMutex

	identities  map[string]database.Identity
	descriptors map[string][]database.StoredDescriptor
	nextDescID  int64

	audit       []database.AuditEntry
	nextAuditID int64

	sessions map[string]database.Session
	otps     map[string]database.OTP // keyed by identity ID
	failures map[string][]time.Time
	lockouts map[string]time.Time

	// Error injection
	CreateIdentityError error
	AddDescriptorError  error
	GetIdentityError    error
	GetDescriptorsError error
	AppendAuditError    error
	SaveSessionError    error
	GetSessionError     error
	ReplaceOTPError     error
	ConsumeOTPError     error
	RecordFailureError  error
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		identities:  make(map[string]database.Identity),
		descriptors: make(map[string][]database.StoredDescriptor),
		sessions:    make(map[string]database.Session),
		otps:        make(map[string]database.OTP),
		failures:    make(map[string][]time.Time),
		lockouts:    make(map[string]time.Time),
	}
}

// Stores returns the store wired into every repository slot
func (m *Store) Stores() database.Stores {
	return database.Stores{
		Identities: m,
		Audit:      &auditStore{m},
		Sessions:   &sessionStore{m},
		OTPs:       &otpStore{m},
		Failures:   &failureStore{m},
	}
}

// GetIdentity retrieves an identity by ID
func (m *Store) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	if m.GetIdentityError != nil {
		return nil, m.GetIdentityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.identities[id]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

// GetIdentityByUsername retrieves an identity by its canonical username
func (m *Store) GetIdentityByUsername(ctx context.Context, username string) (*database.Identity, error) {
	if m.GetIdentityError != nil {
		return nil, m.GetIdentityError
	}
	key := facematch.CanonicalUsername(username)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, i := range m.identities {
		if facematch.CanonicalUsername(i.Username) == key {
			return &i, nil
		}
	}
	return nil, nil
}

// UsernameOrEmailTaken reports whether the username or email is already enrolled
func (m *Store) UsernameOrEmailTaken(ctx context.Context, username, email string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usernameTaken(username), m.emailTaken(email), nil
}

func (m *Store) usernameTaken(username string) bool {
	key := facematch.CanonicalUsername(username)
	for _, i := range m.identities {
		if facematch.CanonicalUsername(i.Username) == key {
			return true
		}
	}
	return false
}

func (m *Store) emailTaken(email string) bool {
	key := facematch.CanonicalEmail(email)
	for _, i := range m.identities {
		if facematch.CanonicalEmail(i.Email) == key {
			return true
		}
	}
	return false
}

// ListIdentities returns identities ordered by creation time
func (m *Store) ListIdentities(ctx context.Context, limit, offset int) ([]database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]database.Identity, 0, len(m.identities))
	for _, i := range m.identities {
		all = append(all, i)
	}
	sort.Slice(all, func(a, b int) bool {
		if all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].ID < all[b].ID
		}
		return all[a].CreatedAt.Before(all[b].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// CountIdentities returns the number of identities
func (m *Store) CountIdentities(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// CreateIdentity stores an identity with its first descriptor
func (m *Store) CreateIdentity(
	ctx context.Context, identity database.Identity, first database.StoredDescriptor,
) (*database.StoredDescriptor, error) {
	if m.CreateIdentityError != nil {
		return nil, m.CreateIdentityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usernameTaken(identity.Username) || m.emailTaken(identity.Email) {
		return nil, fmt.Errorf("insert identity %s: %w", identity.Username, apperr.ErrDuplicate)
	}
	m.identities[identity.ID] = identity
	m.nextDescID++
	first.ID = m.nextDescID
	first.IdentityID = identity.ID
	m.descriptors[identity.ID] = []database.StoredDescriptor{first}
	return &first, nil
}

// AddDescriptor stores a descriptor and evicts the oldest beyond maxPerIdentity
func (m *Store) AddDescriptor(
	ctx context.Context, d database.StoredDescriptor, maxPerIdentity int,
) (*database.StoredDescriptor, []int64, error) {
	if m.AddDescriptorError != nil {
		return nil, nil, m.AddDescriptorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[d.IdentityID]; !ok {
		return nil, nil, apperr.ErrIdentityNotFound
	}
	m.nextDescID++
	d.ID = m.nextDescID
	list := append(m.descriptors[d.IdentityID], d)

	var evicted []int64
	if maxPerIdentity > 0 && len(list) > maxPerIdentity {
		for _, old := range list[:len(list)-maxPerIdentity] {
			evicted = append(evicted, old.ID)
		}
		list = append([]database.StoredDescriptor(nil), list[len(list)-maxPerIdentity:]...)
	}
	m.descriptors[d.IdentityID] = list
	return &d, evicted, nil
}

// DeleteIdentity removes an identity and everything it owns except audit entries
func (m *Store) DeleteIdentity(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[id]; !ok {
		return false, nil
	}
	delete(m.identities, id)
	delete(m.descriptors, id)
	delete(m.otps, id)
	delete(m.failures, id)
	delete(m.lockouts, id)
	for sid, s := range m.sessions {
		if s.IdentityID == id {
			delete(m.sessions, sid)
		}
	}
	return true, nil
}

// GetDescriptors returns the descriptors of an identity, oldest first
func (m *Store) GetDescriptors(ctx context.Context, identityID string) ([]database.StoredDescriptor, error) {
	if m.GetDescriptorsError != nil {
		return nil, m.GetDescriptorsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.StoredDescriptor(nil), m.descriptors[identityID]...), nil
}

// GetAllDescriptors returns every stored descriptor ordered by ID
func (m *Store) GetAllDescriptors(ctx context.Context) ([]database.StoredDescriptor, error) {
	if m.GetDescriptorsError != nil {
		return nil, m.GetDescriptorsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []database.StoredDescriptor
	for _, list := range m.descriptors {
		all = append(all, list...)
	}
	sort.Slice(all, func(a, b int) bool { return all[a].ID < all[b].ID })
	return all, nil
}

// DescriptorStats returns count and max ID of stored descriptors
func (m *Store) DescriptorStats(ctx context.Context) (database.DescriptorStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats database.DescriptorStats
	for _, list := range m.descriptors {
		for _, d := range list {
			stats.Count++
			if d.ID > stats.MaxID {
				stats.MaxID = d.ID
			}
		}
	}
	return stats, nil
}

// AuditEntries returns a copy of all audit entries in insertion order
func (m *Store) AuditEntries() []database.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.AuditEntry(nil), m.audit...)
}

// SessionCount returns the number of stored sessions, expired ones included
func (m *Store) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

type auditStore struct{ m *Store }

func (a *auditStore) Append(ctx context.Context, entry *database.AuditEntry) error {
	if a.m.AppendAuditError != nil {
		return a.m.AppendAuditError
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.nextAuditID++
	entry.ID = a.m.nextAuditID
	a.m.audit = append(a.m.audit, *entry)
	return nil
}

func (a *auditStore) Recent(ctx context.Context, limit int, identityID string) ([]database.AuditEntry, error) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	var out []database.AuditEntry
	for _, e := range a.m.audit {
		if identityID == "" || e.IdentityID == identityID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type sessionStore struct{ m *Store }

func (s *sessionStore) Save(ctx context.Context, session *database.Session) error {
	if s.m.SaveSessionError != nil {
		return s.m.SaveSessionError
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.sessions[session.ID] = *session
	return nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*database.Session, error) {
	if s.m.GetSessionError != nil {
		return nil, s.m.GetSessionError
	}
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	session, ok := s.m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.sessions, id)
	return nil
}

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for id, session := range s.m.sessions {
		if session.Expired(now) {
			delete(s.m.sessions, id)
			n++
		}
	}
	return n, nil
}

type otpStore struct{ m *Store }

func (o *otpStore) Replace(ctx context.Context, otp *database.OTP) error {
	if o.m.ReplaceOTPError != nil {
		return o.m.ReplaceOTPError
	}
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	o.m.otps[otp.IdentityID] = *otp
	return nil
}

func (o *otpStore) Get(ctx context.Context, identityID string) (*database.OTP, error) {
	o.m.mu.RLock()
	defer o.m.mu.RUnlock()
	otp, ok := o.m.otps[identityID]
	if !ok {
		return nil, nil
	}
	return &otp, nil
}

func (o *otpStore) DecrementAttempts(ctx context.Context, otpID string) (int, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	for id, otp := range o.m.otps {
		if otp.ID != otpID {
			continue
		}
		if otp.AttemptsRemaining > 0 {
			otp.AttemptsRemaining--
			o.m.otps[id] = otp
		}
		return otp.AttemptsRemaining, nil
	}
	return 0, nil
}

func (o *otpStore) Consume(ctx context.Context, otpID string) (bool, error) {
	if o.m.ConsumeOTPError != nil {
		return false, o.m.ConsumeOTPError
	}
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	for id, otp := range o.m.otps {
		if otp.ID == otpID {
			delete(o.m.otps, id)
			return true, nil
		}
	}
	return false, nil
}

func (o *otpStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	var n int64
	for id, otp := range o.m.otps {
		if otp.Expired(now) || otp.AttemptsRemaining <= 0 {
			delete(o.m.otps, id)
			n++
		}
	}
	return n, nil
}

type failureStore struct{ m *Store }

func (f *failureStore) RecordFailure(ctx context.Context, identityID string, at time.Time) error {
	if f.m.RecordFailureError != nil {
		return f.m.RecordFailureError
	}
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.failures[identityID] = append(f.m.failures[identityID], at)
	return nil
}

func (f *failureStore) CountSince(ctx context.Context, identityID string, since time.Time) (int, error) {
	f.m.mu.RLock()
	defer f.m.mu.RUnlock()
	n := 0
	for _, at := range f.m.failures[identityID] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *failureStore) Lock(ctx context.Context, identityID string, until time.Time) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.lockouts[identityID] = until
	return nil
}

func (f *failureStore) LockedUntil(ctx context.Context, identityID string) (time.Time, error) {
	f.m.mu.RLock()
	defer f.m.mu.RUnlock()
	return f.m.lockouts[identityID], nil
}

func (f *failureStore) Reset(ctx context.Context, identityID string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	delete(f.m.failures, identityID)
	delete(f.m.lockouts, identityID)
	return nil
}

func (f *failureStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	var n int64
	for id, list := range f.m.failures {
		kept := list[:0]
		for _, at := range list {
			if at.Before(before) {
				n++
				continue
			}
			kept = append(kept, at)
		}
		if len(kept) == 0 {
			delete(f.m.failures, id)
		} else {
			f.m.failures[id] = kept
		}
	}
	for id, until := range f.m.lockouts {
		if until.Before(before) {
			delete(f.m.lockouts, id)
			n++
		}
	}
	return n, nil
}
