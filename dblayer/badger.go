package dblayer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
	"github.com/dgraph-io/badger"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// Key prefixes that denote the different tables in the key-value store.
const (
	KeyTypeRegimen     uint32 = 0
	KeyTypeUserRegimen uint32 = 1
	KeyTypeRecord      uint32 = 2
	KeyTypeUser        uint32 = 3
)

const keySep = 0

func typedKey(keyType uint32, parts ...string) []byte {
	key := make([]byte, 4, 64)
	binary.BigEndian.PutUint32(key[0:4], keyType)
	for i, p := range parts {
		if i > 0 {
			key = append(key, keySep)
		}
		key = append(key, p...)
	}
	return key
}

func RegimenKey(id string) []byte {
	return typedKey(KeyTypeRegimen, id)
}

func UserRegimenKey(userID, regimenID string) []byte {
	return typedKey(KeyTypeUserRegimen, userID, regimenID)
}

func UserRegimenKeyPrefix(userID string) []byte {
	return append(typedKey(KeyTypeUserRegimen, userID), keySep)
}

// RecordKey sorts records of one user by date, then regimen, then time.
func RecordKey(k dbtypes.DoseKey) []byte {
	return typedKey(KeyTypeRecord, k.UserID, k.Date.String(), k.RegimenID, k.Time.String())
}

func RecordKeyPrefixUser(userID string) []byte {
	return append(typedKey(KeyTypeRecord, userID), keySep)
}

func UserKey(userID string) []byte {
	return typedKey(KeyTypeUser, userID)
}

func UserKeyPrefixAll() []byte {
	return typedKey(KeyTypeUser)
}

// BadgerStore keeps regimens and records in an embedded Badger database.
type BadgerStore struct {
	DB *badger.DB
}

func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dataDir))
	if err != nil {
		return nil, xerrors.Errorf("while opening badger kv dir %q: %w", dataDir, err)
	}
	return &BadgerStore{DB: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.DB.Close()
}

func (s *BadgerStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := startSpan(ctx, "BadgerStore.RunTransaction")

	err := s.DB.Update(func(txn *badger.Txn) error {
		return fn(ctx, &badgerTx{txn: txn})
	})
	if xerrors.Is(err, badger.ErrConflict) {
		err = xerrors.Errorf("while committing badger transaction: %v: %w", err, dbtypes.ErrConflict)
	}
	return endSpan(span, err)
}

func (s *BadgerStore) ListUserIDs(ctx context.Context) ([]string, error) {
	_, span := startSpan(ctx, "BadgerStore.ListUserIDs")

	var out []string
	err := s.DB.View(func(txn *badger.Txn) error {
		prefix := UserKeyPrefixAll()
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().KeyCopy(nil)[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, endSpan(span, xerrors.Errorf("while listing users: %w", err))
	}
	return out, endSpan(span, nil)
}

type badgerTx struct {
	txn *badger.Txn
}

func (tx *badgerTx) get(key []byte, out interface{}) error {
	item, err := tx.txn.Get(key)
	if err != nil {
		return err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return xerrors.Errorf("while reading value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.Errorf("while unmarshaling value: %w", err)
	}
	return nil
}

func (tx *badgerTx) set(key []byte, in interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return xerrors.Errorf("while marshaling value: %w", err)
	}
	if err := tx.txn.Set(key, data); err != nil {
		return xerrors.Errorf("while writing value: %w", err)
	}
	return nil
}

func (tx *badgerTx) exists(key []byte) (bool, error) {
	_, err := tx.txn.Get(key)
	if xerrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (tx *badgerTx) GetRegimen(ctx context.Context, id string) (*dbtypes.Regimen, error) {
	r := &dbtypes.Regimen{}
	err := tx.get(RegimenKey(id), r)
	if xerrors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("regimen %s: %w", id, dbtypes.ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("while reading regimen %s: %w", id, err)
	}
	return r, nil
}

func (tx *badgerTx) ListRegimens(ctx context.Context, userID string) ([]*dbtypes.Regimen, error) {
	prefix := UserRegimenKeyPrefix(userID)

	var ids []string
	it := tx.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, string(it.Item().KeyCopy(nil)[len(prefix):]))
	}
	it.Close()

	out := make([]*dbtypes.Regimen, 0, len(ids))
	for _, id := range ids {
		r, err := tx.GetRegimen(ctx, id)
		if err != nil {
			return nil, xerrors.Errorf("while listing regimens of %s: %w", userID, err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return regimenLess(out[i], out[j]) })
	return out, nil
}

func (tx *badgerTx) CreateRegimen(ctx context.Context, r *dbtypes.Regimen) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	found, err := tx.exists(RegimenKey(r.ID))
	if err != nil {
		return xerrors.Errorf("while checking for regimen %s: %w", r.ID, err)
	}
	if found {
		return fmt.Errorf("regimen %s already exists: %w", r.ID, dbtypes.ErrConflict)
	}

	if err := tx.set(RegimenKey(r.ID), r); err != nil {
		return xerrors.Errorf("while creating regimen %s: %w", r.ID, err)
	}
	if err := tx.txn.Set(UserRegimenKey(r.UserID, r.ID), nil); err != nil {
		return xerrors.Errorf("while indexing regimen %s: %w", r.ID, err)
	}
	if err := tx.txn.Set(UserKey(r.UserID), nil); err != nil {
		return xerrors.Errorf("while indexing user %s: %w", r.UserID, err)
	}
	return nil
}

func (tx *badgerTx) UpdateRegimen(ctx context.Context, r *dbtypes.Regimen) error {
	found, err := tx.exists(RegimenKey(r.ID))
	if err != nil {
		return xerrors.Errorf("while checking for regimen %s: %w", r.ID, err)
	}
	if !found {
		return fmt.Errorf("regimen %s: %w", r.ID, dbtypes.ErrNotFound)
	}
	if err := tx.set(RegimenKey(r.ID), r); err != nil {
		return xerrors.Errorf("while updating regimen %s: %w", r.ID, err)
	}
	return nil
}

func (tx *badgerTx) GetRecord(ctx context.Context, key dbtypes.DoseKey) (*dbtypes.AdherenceRecord, error) {
	rec := &dbtypes.AdherenceRecord{}
	err := tx.get(RecordKey(key), rec)
	if xerrors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("adherence record %s: %w", key, dbtypes.ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("while reading adherence record %s: %w", key, err)
	}
	return rec, nil
}

func (tx *badgerTx) CreateRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error {
	key := rec.Key()
	found, err := tx.exists(RecordKey(key))
	if err != nil {
		return xerrors.Errorf("while checking for adherence record %s: %w", key, err)
	}
	if found {
		return fmt.Errorf("adherence record %s already exists: %w", key, dbtypes.ErrConflict)
	}
	return tx.PutRecord(ctx, rec)
}

func (tx *badgerTx) PutRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := tx.set(RecordKey(rec.Key()), rec); err != nil {
		return xerrors.Errorf("while writing adherence record %s: %w", rec.Key(), err)
	}
	return nil
}

func (tx *badgerTx) DeleteRecord(ctx context.Context, key dbtypes.DoseKey) error {
	found, err := tx.exists(RecordKey(key))
	if err != nil {
		return xerrors.Errorf("while checking for adherence record %s: %w", key, err)
	}
	if !found {
		return fmt.Errorf("adherence record %s: %w", key, dbtypes.ErrNotFound)
	}
	if err := tx.txn.Delete(RecordKey(key)); err != nil {
		return xerrors.Errorf("while deleting adherence record %s: %w", key, err)
	}
	return nil
}

func (tx *badgerTx) ListRecords(ctx context.Context, userID string, from, to civil.Date) ([]*dbtypes.AdherenceRecord, error) {
	prefix := RecordKeyPrefixUser(userID)
	start := append(append([]byte(nil), prefix...), from.String()...)
	// Dates are fixed width, so every key of a day <= to sorts below this.
	stop := append(append([]byte(nil), prefix...), to.AddDays(1).String()...)

	var out []*dbtypes.AdherenceRecord
	it := tx.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if bytes.Compare(item.Key(), stop) >= 0 {
			break
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return nil, xerrors.Errorf("while reading adherence record: %w", err)
		}
		rec := &dbtypes.AdherenceRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, xerrors.Errorf("while unmarshaling adherence record: %w", err)
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return recordLess(out[i], out[j]) })
	return out, nil
}
