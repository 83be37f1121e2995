package cache

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// key layout:
//
//	v:<version>             -> creation time (unix seconds)
//	e:<version>\x00<key>    -> response snapshot
const (
	versionPrefix = "v:"
	entryPrefix   = "e:"
	keySeparator  = "\x00"
)

type LevelDBStore struct {
	db         *leveldb.DB
	writeMutex *sync.Mutex
}

func NewLevelDBStore(path string) (LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return LevelDBStore{}, storeError("could not open leveldb database", err)
	}
	return LevelDBStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func generationPrefix(version string) []byte {
	return []byte(entryPrefix + version + keySeparator)
}

func (l LevelDBStore) Versions(ctx context.Context) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(versionPrefix)), nil)
	defer it.Release()
	versions := make([]string, 0)
	for it.Next() {
		versions = append(versions, string(bytes.TrimPrefix(it.Key(), []byte(versionPrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, storeError("could not list versions", err)
	}
	return versions, nil
}

func (l LevelDBStore) Commit(ctx context.Context, version string, entries []Entry) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	versionKey := []byte(versionPrefix + version)
	if ok, err := l.db.Has(versionKey, nil); err != nil {
		return storeError("could not check version", err)
	} else if !ok {
		batch.Put(versionKey, []byte(strconv.FormatInt(time.Now().Unix(), 10)))
	}
	prefix := generationPrefix(version)
	for _, e := range entries {
		batch.Put(append(append([]byte(nil), prefix...), e.Key...), e.Bytes)
	}
	if err := l.db.Write(batch, nil); err != nil {
		return storeError("could not commit entries", err)
	}
	return nil
}

func (l LevelDBStore) Get(ctx context.Context, version, key string) ([]byte, bool, error) {
	b, err := l.db.Get(append(generationPrefix(version), key...), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("could not read entry", err)
	}
	return b, true, nil
}

func (l LevelDBStore) Keys(ctx context.Context, version string) ([]string, error) {
	prefix := generationPrefix(version)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, storeError("could not list keys", err)
	}
	return keys, nil
}

func (l LevelDBStore) Delete(ctx context.Context, version string) error {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(generationPrefix(version)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return storeError("could not list entries", err)
	}
	batch.Delete([]byte(versionPrefix + version))
	if err := l.db.Write(batch, nil); err != nil {
		return storeError("could not delete version", err)
	}
	return nil
}

func (l LevelDBStore) Close() error {
	return l.db.Close()
}
