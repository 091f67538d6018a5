package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	storage "github.com/canopy-network/bakerx/pkg/db"
	adminmodels "github.com/canopy-network/bakerx/pkg/db/models/admin"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
)

var _ storage.Store = (*Store)(nil)

type txKey struct{}

type state struct {
	blocks        map[uint64]indexermodels.Block
	heightByHash  map[string]uint64
	accounts      map[string]indexermodels.Account
	nextAccountID int64
	rewards       map[indexermodels.RewardKey]indexermodels.AccountReward
	nextRewardID  int64
	watermark     *indexermodels.Watermark
	prices        map[indexermodels.Pair]indexermodels.Price
	statuses      []adminmodels.Status
	nextStatusID  int64
}

func newState() *state {
	return &state{
		blocks:       map[uint64]indexermodels.Block{},
		heightByHash: map[string]uint64{},
		accounts:     map[string]indexermodels.Account{},
		rewards:      map[indexermodels.RewardKey]indexermodels.AccountReward{},
		prices:       map[indexermodels.Pair]indexermodels.Price{},
	}
}

func (s *state) clone() *state {
	c := *s
	c.blocks = make(map[uint64]indexermodels.Block, len(s.blocks))
	for k, v := range s.blocks {
		c.blocks[k] = v
	}
	c.heightByHash = make(map[string]uint64, len(s.heightByHash))
	for k, v := range s.heightByHash {
		c.heightByHash[k] = v
	}
	c.accounts = make(map[string]indexermodels.Account, len(s.accounts))
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.rewards = make(map[indexermodels.RewardKey]indexermodels.AccountReward, len(s.rewards))
	for k, v := range s.rewards {
		c.rewards[k] = v
	}
	c.prices = make(map[indexermodels.Pair]indexermodels.Price, len(s.prices))
	for k, v := range s.prices {
		c.prices[k] = v
	}
	if s.watermark != nil {
		wm := *s.watermark
		c.watermark = &wm
	}
	c.statuses = append([]adminmodels.Status(nil), s.statuses...)
	return &c
}

// Store keeps everything in memory. Transactions work on a copy of the state that replaces
// the committed one only when the callback succeeds; they are serialized.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	cur  *state

	// Faults lets callers fail a named operation (e.g. "SetWatermark", "commit").
	faults sync.Map
}

// New returns an empty store.
func New() *Store {
	return &Store{cur: newState()}
}

// Fail makes every later call to op return err until Heal(op) is called.
func (s *Store) Fail(op string, err error) {
	s.faults.Store(op, err)
}

// Heal clears a fault set with Fail.
func (s *Store) Heal(op string) {
	s.faults.Delete(op)
}

func (s *Store) fault(op string) error {
	if v, ok := s.faults.Load(op); ok {
		return storage.StorageError(op, v.(error))
	}
	return nil
}

// Initialize seeds the watermark with seed when none exists.
func (s *Store) Initialize(ctx context.Context, seed indexermodels.Block) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.GetWatermark(ctx); err == nil {
			return nil
		}
		if err := s.UpsertBlock(ctx, seed); err != nil {
			return err
		}
		return s.SetWatermark(ctx, indexermodels.Watermark{Height: seed.Height, Hash: seed.Hash})
	})
}

// WithinTx runs fn against a private copy of the state and publishes it on success.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.cur.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := s.fault("commit"); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = work
	s.mu.Unlock()
	return nil
}

// read runs fn on the transaction state in ctx, or on the committed state.
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.cur)
}

// write runs fn inside the transaction in ctx, or in a single-statement transaction.
func (s *Store) write(ctx context.Context, op string, fn func(st *state) error) error {
	if err := s.fault(op); err != nil {
		return err
	}
	if st, ok := ctx.Value(txKey{}).(*state); ok {
		return fn(st)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(txKey{}).(*state))
	})
}

func (s *Store) GetWatermark(ctx context.Context) (indexermodels.Watermark, error) {
	var wm indexermodels.Watermark
	err := s.read(ctx, func(st *state) error {
		if st.watermark == nil {
			return fmt.Errorf("get watermark: %w", storage.ErrNotFound)
		}
		wm = *st.watermark
		return nil
	})
	return wm, err
}

func (s *Store) SetWatermark(ctx context.Context, wm indexermodels.Watermark) error {
	return s.write(ctx, "SetWatermark", func(st *state) error {
		if st.watermark != nil && st.watermark.Height > wm.Height {
			return nil
		}
		st.watermark = &wm
		return nil
	})
}

func (s *Store) UpsertBlock(ctx context.Context, block indexermodels.Block) error {
	return s.write(ctx, "UpsertBlock", func(st *state) error {
		if existing, ok := st.blocks[block.Height]; ok {
			if existing != block {
				return conflict(block, existing)
			}
			return nil
		}
		if h, ok := st.heightByHash[block.Hash]; ok {
			return conflict(block, st.blocks[h])
		}
		st.blocks[block.Height] = block
		st.heightByHash[block.Hash] = block.Height
		return nil
	})
}

func conflict(incoming, stored indexermodels.Block) error {
	return &storage.ConsistencyError{
		Entity:   "block",
		Key:      fmt.Sprintf("height=%d", incoming.Height),
		Stored:   fmt.Sprintf("%d/%s", stored.Height, stored.Hash),
		Incoming: fmt.Sprintf("%d/%s", incoming.Height, incoming.Hash),
	}
}

func (s *Store) GetBlock(ctx context.Context, height uint64) (indexermodels.Block, error) {
	var b indexermodels.Block
	err := s.read(ctx, func(st *state) error {
		var ok bool
		if b, ok = st.blocks[height]; !ok {
			return fmt.Errorf("get block %d: %w", height, storage.ErrNotFound)
		}
		return nil
	})
	return b, err
}

func (s *Store) ListBlocks(ctx context.Context, filter indexermodels.BlockFilter, page indexermodels.Page) ([]indexermodels.Block, error) {
	var out []indexermodels.Block
	err := s.read(ctx, func(st *state) error {
		for _, b := range st.blocks {
			if filter.Baker != nil && b.Baker != *filter.Baker {
				continue
			}
			if filter.SinceMs != nil && b.SlotTimeMs < *filter.SinceMs {
				continue
			}
			if page.Cursor > 0 && ((page.Desc && b.Height >= page.Cursor) || (!page.Desc && b.Height <= page.Cursor)) {
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if page.Desc {
			return out[i].Height > out[j].Height
		}
		return out[i].Height < out[j].Height
	})
	return limit(out, page), err
}

func (s *Store) EnsureAccount(ctx context.Context, address string) (indexermodels.Account, error) {
	var acc indexermodels.Account
	err := s.write(ctx, "EnsureAccount", func(st *state) error {
		var ok bool
		if acc, ok = st.accounts[address]; ok {
			return nil
		}
		st.nextAccountID++
		acc = indexermodels.Account{ID: st.nextAccountID, Address: address, State: indexermodels.AccountPending}
		st.accounts[address] = acc
		return nil
	})
	return acc, err
}

func (s *Store) UpsertAccount(ctx context.Context, account indexermodels.Account) (indexermodels.Account, error) {
	var stored indexermodels.Account
	err := s.write(ctx, "UpsertAccount", func(st *state) error {
		existing, ok := st.accounts[account.Address]
		if ok && existing.UpdatedHeight > account.UpdatedHeight {
			stored = existing
			return nil
		}
		if ok {
			account.ID = existing.ID
		} else {
			st.nextAccountID++
			account.ID = st.nextAccountID
		}
		st.accounts[account.Address] = account
		stored = account
		return nil
	})
	return stored, err
}

func (s *Store) GetAccount(ctx context.Context, address string) (indexermodels.Account, error) {
	var acc indexermodels.Account
	err := s.read(ctx, func(st *state) error {
		var ok bool
		if acc, ok = st.accounts[address]; !ok {
			return fmt.Errorf("get account %s: %w", address, storage.ErrNotFound)
		}
		return nil
	})
	return acc, err
}

func (s *Store) ListAccounts(ctx context.Context, only *indexermodels.AccountState) ([]indexermodels.Account, error) {
	var out []indexermodels.Account
	err := s.read(ctx, func(st *state) error {
		for _, a := range st.accounts {
			if only == nil || a.State == *only {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *Store) UpsertReward(ctx context.Context, reward indexermodels.AccountReward) (bool, error) {
	inserted := false
	err := s.write(ctx, "UpsertReward", func(st *state) error {
		if _, ok := st.rewards[reward.Key()]; ok {
			return nil
		}
		if _, ok := st.heightByHash[reward.BlockHash]; !ok {
			return storage.StorageError("upsert reward", errors.New("foreign key violation on block_hash"))
		}
		st.nextRewardID++
		reward.ID = st.nextRewardID
		st.rewards[reward.Key()] = reward
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *Store) ListRewards(ctx context.Context, accountID int64, page indexermodels.Page) ([]indexermodels.AccountReward, error) {
	var out []indexermodels.AccountReward
	err := s.read(ctx, func(st *state) error {
		for _, r := range st.rewards {
			if r.AccountID != accountID {
				continue
			}
			id := uint64(r.ID)
			if page.Cursor > 0 && ((page.Desc && id >= page.Cursor) || (!page.Desc && id <= page.Cursor)) {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if page.Desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, page), err
}

func (s *Store) UpsertPrice(ctx context.Context, price indexermodels.Price) error {
	return s.write(ctx, "UpsertPrice", func(st *state) error {
		st.prices[price.Pair] = price
		return nil
	})
}

func (s *Store) GetPrice(ctx context.Context, pair indexermodels.Pair) (indexermodels.Price, error) {
	var p indexermodels.Price
	err := s.read(ctx, func(st *state) error {
		var ok bool
		if p, ok = st.prices[pair]; !ok {
			return fmt.Errorf("get price %s: %w", pair, storage.ErrNotFound)
		}
		return nil
	})
	return p, err
}

func (s *Store) ReportStatus(ctx context.Context, status adminmodels.Status) error {
	return s.write(ctx, "ReportStatus", func(st *state) error {
		st.nextStatusID++
		status.ID = st.nextStatusID
		st.statuses = append(st.statuses, status)
		return nil
	})
}

func (s *Store) LatestStatus(ctx context.Context) (adminmodels.Status, error) {
	var latest adminmodels.Status
	err := s.read(ctx, func(st *state) error {
		if len(st.statuses) == 0 {
			return fmt.Errorf("latest status: %w", storage.ErrNotFound)
		}
		latest = st.statuses[0]
		for _, report := range st.statuses[1:] {
			if report.TimestampMs > latest.TimestampMs || (report.TimestampMs == latest.TimestampMs && report.ID > latest.ID) {
				latest = report
			}
		}
		return nil
	})
	return latest, err
}

func (s *Store) GarbageCollectStatuses(ctx context.Context, keep int) (int64, error) {
	var removed int64
	err := s.write(ctx, "GarbageCollectStatuses", func(st *state) error {
		if keep < 0 {
			keep = 0
		}
		if len(st.statuses) <= keep {
			return nil
		}
		sort.SliceStable(st.statuses, func(i, j int) bool {
			a, b := st.statuses[i], st.statuses[j]
			if a.TimestampMs != b.TimestampMs {
				return a.TimestampMs > b.TimestampMs
			}
			return a.ID > b.ID
		})
		removed = int64(len(st.statuses) - keep)
		st.statuses = st.statuses[:keep]
		return nil
	})
	return removed, err
}

func (s *Store) Ping(context.Context) error {
	return s.fault("Ping")
}

func (s *Store) Close() {}

func limit[T any](in []T, page indexermodels.Page) []T {
	n := page.Limit
	if n <= 0 {
		n = 50
	}
	if len(in) > n {
		return in[:n]
	}
	return in
}
