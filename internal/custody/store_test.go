package custody

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/walletguard/walletguard/pkg/types"
)

// memRecordStore is an in-memory RecordStore mirroring the SQL
// semantics of the real repository, including the atomic field-group
// updates and the provisioning NULL guard.
type memRecordStore struct {
	mu      sync.Mutex
	records map[string]*types.WalletSecurityRecord
	down    bool
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{records: make(map[string]*types.WalletSecurityRecord)}
}

func cloneRecord(r *types.WalletSecurityRecord) *types.WalletSecurityRecord {
	c := *r
	c.MasterSecretSalt = append([]byte(nil), r.MasterSecretSalt...)
	c.EncryptedMasterSecret = append([]byte(nil), r.EncryptedMasterSecret...)
	c.EncryptedMnemonic = append([]byte(nil), r.EncryptedMnemonic...)
	c.EncryptedDelegatedKeyLegacy = append([]byte(nil), r.EncryptedDelegatedKeyLegacy...)
	c.EncryptedDelegatedKeyCurrent = append([]byte(nil), r.EncryptedDelegatedKeyCurrent...)
	c.ExecutionWrappedSecret = append([]byte(nil), r.ExecutionWrappedSecret...)
	return &c
}

func (s *memRecordStore) get(address string) (*types.WalletSecurityRecord, bool) {
	r, ok := s.records[address]
	return r, ok
}

func (s *memRecordStore) GetByAddress(_ context.Context, address string) (*types.WalletSecurityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errors.New("store down")
	}
	r, ok := s.get(address)
	if !ok {
		return nil, nil
	}
	return cloneRecord(r), nil
}

func (s *memRecordStore) Create(_ context.Context, record *types.WalletSecurityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("store down")
	}
	if _, ok := s.records[record.Address]; ok {
		return errors.New("duplicate key value violates unique constraint")
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	s.records[record.Address] = cloneRecord(record)
	return nil
}

func (s *memRecordStore) UpdateMasterSecret(_ context.Context, address string, salt, encrypted []byte, formatVersion int, clearDependents bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("store down")
	}
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.MasterSecretSalt = append([]byte(nil), salt...)
	r.EncryptedMasterSecret = append([]byte(nil), encrypted...)
	r.MasterSecretFormatVersion = formatVersion
	if clearDependents {
		r.EncryptedMnemonic = nil
		r.EncryptedDelegatedKeyLegacy = nil
		r.EncryptedDelegatedKeyCurrent = nil
		r.ExecutionEnabled = false
		r.ExecutionWrappedSecret = nil
		r.ExecutionEnabledAt = nil
		r.ExecutionExpiresAt = nil
		r.PolicyHmac = nil
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (s *memRecordStore) ProvisionMnemonic(_ context.Context, address string, encryptedMnemonic, encryptedDelegatedKey []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return false, errors.New("store down")
	}
	r, ok := s.get(address)
	if !ok || len(r.EncryptedMnemonic) > 0 {
		return false, nil
	}
	r.EncryptedMnemonic = append([]byte(nil), encryptedMnemonic...)
	r.EncryptedDelegatedKeyCurrent = append([]byte(nil), encryptedDelegatedKey...)
	r.UpdatedAt = time.Now()
	return true, nil
}

func (s *memRecordStore) UpdateMnemonic(_ context.Context, address string, encryptedMnemonic []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.EncryptedMnemonic = append([]byte(nil), encryptedMnemonic...)
	return nil
}

func (s *memRecordStore) UpdateDelegatedKey(_ context.Context, address string, encryptedKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.EncryptedDelegatedKeyCurrent = append([]byte(nil), encryptedKey...)
	return nil
}

func (s *memRecordStore) PromoteDelegatedKey(_ context.Context, address string, encryptedKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.EncryptedDelegatedKeyCurrent = append([]byte(nil), encryptedKey...)
	r.EncryptedDelegatedKeyLegacy = nil
	return nil
}

func (s *memRecordStore) EnableExecution(_ context.Context, address string, wrappedSecret []byte, enabledAt time.Time, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("store down")
	}
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.ExecutionEnabled = true
	r.ExecutionWrappedSecret = append([]byte(nil), wrappedSecret...)
	t := enabledAt
	r.ExecutionEnabledAt = &t
	r.ExecutionExpiresAt = expiresAt
	return nil
}

func (s *memRecordStore) RevokeExecution(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("store down")
	}
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.ExecutionEnabled = false
	r.ExecutionWrappedSecret = nil
	r.ExecutionEnabledAt = nil
	r.ExecutionExpiresAt = nil
	return nil
}

func (s *memRecordStore) TriggerEmergencyStop(_ context.Context, address, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errors.New("store down")
	}
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.EmergencyStopTriggered = true
	t := at
	r.EmergencyStopAt = &t
	a := actor
	r.EmergencyStopBy = &a
	r.ExecutionEnabled = false
	r.ExecutionWrappedSecret = nil
	r.ExecutionEnabledAt = nil
	r.ExecutionExpiresAt = nil
	return nil
}

func (s *memRecordStore) ClearEmergencyStop(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	r.EmergencyStopTriggered = false
	r.EmergencyStopAt = nil
	r.EmergencyStopBy = nil
	return nil
}

func (s *memRecordStore) UpdatePolicyHmac(_ context.Context, address string, policyHmac *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.get(address)
	if !ok {
		return errors.New("security record not found")
	}
	if policyHmac == nil {
		r.PolicyHmac = nil
	} else {
		v := *policyHmac
		r.PolicyHmac = &v
	}
	return nil
}

var _ RecordStore = (*memRecordStore)(nil)
