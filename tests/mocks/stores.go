// Package mocks provides in-memory doubles for the storage interfaces,
// used by the cross-package test suites.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walletguard/walletguard/internal/auth"
	"github.com/walletguard/walletguard/internal/custody"
	"github.com/walletguard/walletguard/internal/storage"
	"github.com/walletguard/walletguard/pkg/types"
)

// MemoryRecordStore implements custody.RecordStore over a map, mirroring
// the SQL repository's semantics: atomic field-group updates, the
// provisioning NULL guard, and "not found" errors on updates to missing
// records.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]*types.WalletSecurityRecord
	err     error
}

var _ custody.RecordStore = (*MemoryRecordStore)(nil)

// NewMemoryRecordStore creates an empty record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*types.WalletSecurityRecord)}
}

// SetError makes every subsequent call fail with err. Pass nil to heal.
func (s *MemoryRecordStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Mutate applies fn to the stored record in place. Attack tests use it
// to tamper with ciphertexts the way a compromised database would.
func (s *MemoryRecordStore) Mutate(address string, fn func(*types.WalletSecurityRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[address]
	if !ok {
		return false
	}
	fn(record)
	return true
}

// Snapshot returns a copy of the stored record, or nil.
func (s *MemoryRecordStore) Snapshot(address string) *types.WalletSecurityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[address]
	if !ok {
		return nil
	}
	return copyRecord(record)
}

// Len reports the number of stored records.
func (s *MemoryRecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func copyRecord(r *types.WalletSecurityRecord) *types.WalletSecurityRecord {
	c := *r
	c.MasterSecretSalt = append([]byte(nil), r.MasterSecretSalt...)
	c.EncryptedMasterSecret = append([]byte(nil), r.EncryptedMasterSecret...)
	c.EncryptedMnemonic = append([]byte(nil), r.EncryptedMnemonic...)
	c.EncryptedDelegatedKeyLegacy = append([]byte(nil), r.EncryptedDelegatedKeyLegacy...)
	c.EncryptedDelegatedKeyCurrent = append([]byte(nil), r.EncryptedDelegatedKeyCurrent...)
	c.ExecutionWrappedSecret = append([]byte(nil), r.ExecutionWrappedSecret...)
	return &c
}

// GetByAddress returns a copy of the record, or (nil, nil) when the
// wallet has no record yet.
func (s *MemoryRecordStore) GetByAddress(_ context.Context, address string) (*types.WalletSecurityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	record, ok := s.records[address]
	if !ok {
		return nil, nil
	}
	return copyRecord(record), nil
}

// Create inserts a record, failing on a duplicate address.
func (s *MemoryRecordStore) Create(_ context.Context, record *types.WalletSecurityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, exists := s.records[record.Address]; exists {
		return fmt.Errorf("security record already exists for %s", record.Address)
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	s.records[record.Address] = copyRecord(record)
	return nil
}

func (s *MemoryRecordStore) locked(address string) (*types.WalletSecurityRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	record, ok := s.records[address]
	if !ok {
		return nil, fmt.Errorf("security record not found")
	}
	return record, nil
}

// UpdateMasterSecret replaces the master secret ciphertext, dropping
// every dependent ciphertext when clearDependents is set.
func (s *MemoryRecordStore) UpdateMasterSecret(_ context.Context, address string, salt, encrypted []byte, formatVersion int, clearDependents bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.MasterSecretSalt = append([]byte(nil), salt...)
	record.EncryptedMasterSecret = append([]byte(nil), encrypted...)
	record.MasterSecretFormatVersion = formatVersion
	if clearDependents {
		record.EncryptedMnemonic = nil
		record.EncryptedDelegatedKeyLegacy = nil
		record.EncryptedDelegatedKeyCurrent = nil
		record.ExecutionEnabled = false
		record.ExecutionWrappedSecret = nil
		record.ExecutionEnabledAt = nil
		record.ExecutionExpiresAt = nil
		record.PolicyHmac = nil
	}
	record.UpdatedAt = time.Now()
	return nil
}

// ProvisionMnemonic stores both ciphertexts if no mnemonic exists yet,
// reporting whether this call won the provisioning race.
func (s *MemoryRecordStore) ProvisionMnemonic(_ context.Context, address string, encryptedMnemonic, encryptedDelegatedKey []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	record, ok := s.records[address]
	if !ok || len(record.EncryptedMnemonic) > 0 {
		return false, nil
	}
	record.EncryptedMnemonic = append([]byte(nil), encryptedMnemonic...)
	record.EncryptedDelegatedKeyCurrent = append([]byte(nil), encryptedDelegatedKey...)
	record.UpdatedAt = time.Now()
	return true, nil
}

// UpdateMnemonic replaces the encrypted recovery phrase.
func (s *MemoryRecordStore) UpdateMnemonic(_ context.Context, address string, encryptedMnemonic []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.EncryptedMnemonic = append([]byte(nil), encryptedMnemonic...)
	record.UpdatedAt = time.Now()
	return nil
}

// UpdateDelegatedKey replaces the current delegated key ciphertext.
func (s *MemoryRecordStore) UpdateDelegatedKey(_ context.Context, address string, encryptedKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.EncryptedDelegatedKeyCurrent = append([]byte(nil), encryptedKey...)
	record.UpdatedAt = time.Now()
	return nil
}

// PromoteDelegatedKey moves a key into the current slot and clears the
// legacy one.
func (s *MemoryRecordStore) PromoteDelegatedKey(_ context.Context, address string, encryptedKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.EncryptedDelegatedKeyCurrent = append([]byte(nil), encryptedKey...)
	record.EncryptedDelegatedKeyLegacy = nil
	record.UpdatedAt = time.Now()
	return nil
}

// EnableExecution sets the flag, wrapped secret, and timestamps together.
func (s *MemoryRecordStore) EnableExecution(_ context.Context, address string, wrappedSecret []byte, enabledAt time.Time, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.ExecutionEnabled = true
	record.ExecutionWrappedSecret = append([]byte(nil), wrappedSecret...)
	record.ExecutionEnabledAt = &enabledAt
	record.ExecutionExpiresAt = expiresAt
	record.UpdatedAt = time.Now()
	return nil
}

// RevokeExecution clears the flag and drops the wrapped secret.
func (s *MemoryRecordStore) RevokeExecution(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.ExecutionEnabled = false
	record.ExecutionWrappedSecret = nil
	record.ExecutionEnabledAt = nil
	record.ExecutionExpiresAt = nil
	record.UpdatedAt = time.Now()
	return nil
}

// TriggerEmergencyStop sets the stop flag and revokes execution in one
// step.
func (s *MemoryRecordStore) TriggerEmergencyStop(_ context.Context, address, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.EmergencyStopTriggered = true
	record.EmergencyStopAt = &at
	record.EmergencyStopBy = &actor
	record.ExecutionEnabled = false
	record.ExecutionWrappedSecret = nil
	record.ExecutionEnabledAt = nil
	record.ExecutionExpiresAt = nil
	record.UpdatedAt = time.Now()
	return nil
}

// ClearEmergencyStop lifts the stop flag; execution stays revoked.
func (s *MemoryRecordStore) ClearEmergencyStop(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	record.EmergencyStopTriggered = false
	record.EmergencyStopAt = nil
	record.EmergencyStopBy = nil
	record.UpdatedAt = time.Now()
	return nil
}

// UpdatePolicyHmac stores or clears the policy integrity tag.
func (s *MemoryRecordStore) UpdatePolicyHmac(_ context.Context, address string, policyHmac *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.locked(address)
	if err != nil {
		return err
	}
	if policyHmac == nil {
		record.PolicyHmac = nil
	} else {
		v := *policyHmac
		record.PolicyHmac = &v
	}
	record.UpdatedAt = time.Now()
	return nil
}

// MemoryChallengeStore implements auth.ChallengeStore over a map keyed
// by nonce hash.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*types.AuthChallenge
	err        error
}

var _ auth.ChallengeStore = (*MemoryChallengeStore)(nil)

// NewMemoryChallengeStore creates an empty challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{challenges: make(map[string]*types.AuthChallenge)}
}

// SetError makes every subsequent call fail with err. Pass nil to heal.
func (s *MemoryChallengeStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// CreateChallenge stores a challenge under its nonce hash.
func (s *MemoryChallengeStore) CreateChallenge(_ context.Context, challenge *types.AuthChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	c := *challenge
	s.challenges[challenge.NonceHash] = &c
	return nil
}

// GetChallengeByHash returns (nil, nil) when no challenge matches.
func (s *MemoryChallengeStore) GetChallengeByHash(_ context.Context, nonceHash string) (*types.AuthChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.challenges[nonceHash]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

// MarkChallengeUsed consumes the challenge exactly once, reporting
// whether this call was the consumer.
func (s *MemoryChallengeStore) MarkChallengeUsed(_ context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, c := range s.challenges {
		if c.ID == id {
			if c.UsedAt != nil {
				return false, nil
			}
			c.UsedAt = &usedAt
			return true, nil
		}
	}
	return false, nil
}

// DeleteExpiredChallenges removes challenges that expired before the
// cutoff.
func (s *MemoryChallengeStore) DeleteExpiredChallenges(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var removed int64
	for hash, c := range s.challenges {
		if c.ExpiresAt.Before(before) {
			delete(s.challenges, hash)
			removed++
		}
	}
	return removed, nil
}

// ExpireAll rewrites every stored challenge's deadline so tests can age
// challenges without sleeping.
func (s *MemoryChallengeStore) ExpireAll(deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.challenges {
		c.ExpiresAt = deadline
	}
}

// MemoryAuditLog captures audit entries for assertion. It implements
// app.AuditSink.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []*storage.AuditLogEntry
}

// NewMemoryAuditLog creates an empty audit capture.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Log records the entry.
func (l *MemoryAuditLog) Log(_ context.Context, entry *storage.AuditLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *entry
	l.entries = append(l.entries, &copied)
	return nil
}

// Entries returns all captured entries in order.
func (l *MemoryAuditLog) Entries() []*storage.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*storage.AuditLogEntry(nil), l.entries...)
}

// ByAction returns the captured entries with the given action.
func (l *MemoryAuditLog) ByAction(action string) []*storage.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []*storage.AuditLogEntry
	for _, e := range l.entries {
		if e.Action == action {
			matched = append(matched, e)
		}
	}
	return matched
}

// Reset clears the capture.
func (l *MemoryAuditLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
