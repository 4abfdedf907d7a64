package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/domain"
)

const (
	productKeyPrefix  = "product:"
	seqName           = "product_seq"
	sequenceBandwidth = 100
)

// Repo is the durable product store backing the in-memory indexes.
// Badger holds the source of truth; the engine replays it on startup.
type Repo struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger
}

// badgerLoggerAdapter adapts zap to the badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any)   { bl.logger.Errorf(msg, items...) }
func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) { bl.logger.Warnf(msg, items...) }
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any)    { bl.logger.Debugf(msg, items...) }
func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any)   { bl.logger.Debugf(msg, items...) }

// Open opens the product store at path, creating the directory if needed.
// An empty path with inMemory=true yields a non-durable store for tests
// and ephemeral deployments.
func Open(path string, inMemory bool, logger *zap.Logger) (*Repo, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", path, err)
			}
		} else if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		opts = badger.DefaultOptions(path)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger.Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(seqName), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sequence: %w", err)
	}

	return &Repo{db: db, seq: seq, logger: logger}, nil
}

// Close releases the sequence lease and closes the database.
func (r *Repo) Close() error {
	if err := r.seq.Release(); err != nil {
		r.logger.Warn("Failed to release product sequence", zap.Error(err))
	}
	return r.db.Close()
}

// SaveAll persists a batch of products in one transaction. Products already
// stored keep their original sequence number; new ones are assigned the next.
func (r *Repo) SaveAll(ctx context.Context, products []*domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		for _, p := range products {
			key := productKey(p.ID())

			seq, err := r.existingSeq(txn, key)
			if err != nil {
				return err
			}
			if seq == 0 {
				next, err := r.seq.Next()
				if err != nil {
					return fmt.Errorf("next sequence: %w", err)
				}
				seq = next + 1 // badger sequences start at 0; keep 0 as "unassigned"
			}

			data, err := marshalDTO(toDTO(p, seq))
			if err != nil {
				return err
			}
			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("set %s: %w", p.ID(), err)
			}
		}
		return nil
	})
}

// Delete removes products by id. Missing ids are ignored.
// Returns the number actually removed.
func (r *Repo) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	removed := 0
	err := r.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			key := productKey(id)
			if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return fmt.Errorf("get %s: %w", id, err)
			}
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// LoadAll returns every stored product in first-insertion order,
// for index replay at startup.
func (r *Repo) LoadAll(ctx context.Context) ([]domain.Product, error) {
	var dtos []productDTO

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(productKeyPrefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := iter.Item().Value(func(val []byte) error {
				dto, err := unmarshalDTO(val)
				if err != nil {
					return err
				}
				dtos = append(dtos, dto)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Seq < dtos[j].Seq })

	products := make([]domain.Product, len(dtos))
	for i := range dtos {
		products[i] = dtos[i].toDomain()
	}
	return products, nil
}

func (r *Repo) existingSeq(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}

	var seq uint64
	err = item.Value(func(val []byte) error {
		dto, err := unmarshalDTO(val)
		if err != nil {
			return err
		}
		seq = dto.Seq
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func productKey(id string) []byte {
	return []byte(productKeyPrefix + id)
}
