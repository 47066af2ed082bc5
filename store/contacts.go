package store

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/glog"
	"go.etcd.io/bbolt"

	"github.com/phan-manh-dung/dechat/chatstore"
)

// MaxContacts is the number of contacts kept per account; older ones are pruned on Touch.
const MaxContacts = 64

var (
	contactsBucket = []byte("contacts")
	lastBucket     = []byte("last")
)

// contactStore implements IContactStore on a bbolt file.
// Layout: contacts/<account>/<recipient> = unix nano (big endian), last/<account> = <recipient>.
type contactStore struct {
	db *bbolt.DB
}

func OpenContactStore(path string) (*contactStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{contactsBucket, lastBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %v", err)
	}
	return &contactStore{db: db}, nil
}

func (s *contactStore) Close() error {
	return s.db.Close()
}

func (s *contactStore) Touch(account, recipient common.Address, t time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(contactsBucket).CreateBucketIfNotExists(account.Bytes())
		if err != nil {
			return err
		}
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, uint64(t.UnixNano()))
		if err := b.Put(recipient.Bytes(), v); err != nil {
			return err
		}
		if err := tx.Bucket(lastBucket).Put(account.Bytes(), recipient.Bytes()); err != nil {
			return err
		}
		return prune(b)
	})
}

func prune(b *bbolt.Bucket) error {
	contacts := scan(b)
	if len(contacts) <= MaxContacts {
		return nil
	}
	for _, c := range contacts[MaxContacts:] {
		if err := b.Delete(c.Address.Bytes()); err != nil {
			return err
		}
	}
	glog.V(5).Infof("store: pruned %d contacts", len(contacts)-MaxContacts)
	return nil
}

// scan returns all contacts of b, most recent first.
func scan(b *bbolt.Bucket) []Contact {
	var out []Contact
	_ = b.ForEach(func(k, v []byte) error {
		if len(k) != common.AddressLength || len(v) != 8 {
			return nil
		}
		addr := common.BytesToAddress(k)
		out = append(out, Contact{
			Address:  addr,
			Short:    chatstore.ShortAddress(addr),
			LastSeen: time.Unix(0, int64(binary.BigEndian.Uint64(v))),
		})
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

func (s *contactStore) Recent(account common.Address, limit int) ([]Contact, error) {
	var out []Contact
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(contactsBucket).Bucket(account.Bytes())
		if b == nil {
			return nil
		}
		out = scan(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *contactStore) LastRecipient(account common.Address) (common.Address, bool, error) {
	var (
		addr common.Address
		ok   bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(lastBucket).Get(account.Bytes()); len(v) == common.AddressLength {
			addr = common.BytesToAddress(v)
			ok = true
		}
		return nil
	})
	return addr, ok, err
}

func (s *contactStore) Forget(account, recipient common.Address) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(contactsBucket).Bucket(account.Bytes()); b != nil {
			if err := b.Delete(recipient.Bytes()); err != nil {
				return err
			}
		}
		last := tx.Bucket(lastBucket)
		if v := last.Get(account.Bytes()); v != nil && common.BytesToAddress(v) == recipient {
			return last.Delete(account.Bytes())
		}
		return nil
	})
}
