package keeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solwheel/dlmmkeeper/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dummyTxs stands in for transactions built by the venue; the fake submitter
// never inspects them.
func dummyTxs() []*solana.Transaction {
	return []*solana.Transaction{{}}
}

type removeCall struct {
	address    string
	binIDs     []int32
	bps        uint16
	closeAfter bool
}

type openCall struct {
	pool   string
	minBin int32
	maxBin int32
	side   domain.Side
	amount uint64
}

type fakeVenue struct {
	pools     map[string]domain.Pool
	activeBin map[string]domain.ActiveBin
	positions []domain.OnChainPosition
	balances  map[string]uint64

	removeCalls []removeCall
	closeCalls  []string
	openCalls   []openCall
	claimCalls  []string

	claimErr  map[string]error
	removeErr error

	// activeBinFn overrides GetActiveBin when set.
	activeBinFn func(pool string) (domain.ActiveBin, error)
	// onOpen runs after a successful OpenSingleSided, e.g. to make the new
	// position appear in subsequent UserPositions calls.
	onOpen func(c openCall)

	listCalls int
}

var _ domain.VenueClient = (*fakeVenue)(nil)

func (v *fakeVenue) PoolInfo(_ context.Context, pool string) (domain.Pool, error) {
	p, ok := v.pools[pool]
	if !ok {
		return domain.Pool{}, fmt.Errorf("fake: unknown pool %s", pool)
	}
	return p, nil
}

func (v *fakeVenue) GetActiveBin(_ context.Context, pool string) (domain.ActiveBin, error) {
	if v.activeBinFn != nil {
		return v.activeBinFn(pool)
	}
	ab, ok := v.activeBin[pool]
	if !ok {
		return domain.ActiveBin{}, fmt.Errorf("fake: no active bin for %s", pool)
	}
	return ab, nil
}

func (v *fakeVenue) UserPositions(_ context.Context, _ string) ([]domain.OnChainPosition, error) {
	v.listCalls++
	out := make([]domain.OnChainPosition, len(v.positions))
	copy(out, v.positions)
	return out, nil
}

func (v *fakeVenue) RemoveLiquidity(_ context.Context, pos domain.OnChainPosition, binIDs []int32, bps uint16, closeAfter bool) ([]*solana.Transaction, error) {
	if v.removeErr != nil {
		return nil, v.removeErr
	}
	v.removeCalls = append(v.removeCalls, removeCall{
		address:    pos.Address,
		binIDs:     binIDs,
		bps:        bps,
		closeAfter: closeAfter,
	})
	return dummyTxs(), nil
}

func (v *fakeVenue) ClosePosition(_ context.Context, pos domain.OnChainPosition) ([]*solana.Transaction, error) {
	v.closeCalls = append(v.closeCalls, pos.Address)
	return dummyTxs(), nil
}

func (v *fakeVenue) OpenSingleSided(_ context.Context, pool string, minBin, maxBin int32, side domain.Side, amount uint64) ([]*solana.Transaction, error) {
	call := openCall{pool: pool, minBin: minBin, maxBin: maxBin, side: side, amount: amount}
	v.openCalls = append(v.openCalls, call)
	if v.onOpen != nil {
		v.onOpen(call)
	}
	return dummyTxs(), nil
}

func (v *fakeVenue) ClaimAllRewards(_ context.Context, pool string, _ []domain.OnChainPosition) ([]*solana.Transaction, error) {
	if err := v.claimErr[pool]; err != nil {
		return nil, err
	}
	v.claimCalls = append(v.claimCalls, pool)
	return dummyTxs(), nil
}

func (v *fakeVenue) WalletBalance(_ context.Context, _, mint string) (uint64, error) {
	return v.balances[mint], nil
}

type fakeSubmitter struct {
	calls int
	err   error
}

var _ domain.TxSubmitter = (*fakeSubmitter)(nil)

func (s *fakeSubmitter) SignAndSend(_ context.Context, _ []*solana.Transaction) error {
	s.calls++
	return s.err
}

type fakeCooldowns struct {
	armed    map[string]time.Duration
	armCalls []string
}

var _ domain.CooldownGate = (*fakeCooldowns)(nil)

func newFakeCooldowns() *fakeCooldowns {
	return &fakeCooldowns{armed: make(map[string]time.Duration)}
}

func (c *fakeCooldowns) Arm(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.armCalls = append(c.armCalls, key)
	if _, ok := c.armed[key]; ok {
		return false, nil
	}
	c.armed[key] = ttl
	return true, nil
}

func (c *fakeCooldowns) Active(_ context.Context, key string) (bool, error) {
	_, ok := c.armed[key]
	return ok, nil
}

func (c *fakeCooldowns) Clear(_ context.Context, key string) error {
	delete(c.armed, key)
	return nil
}

type fakePrices struct {
	prices map[string]float64
}

var _ PriceSource = (*fakePrices)(nil)

func (p *fakePrices) GetPrice(_ context.Context, mint string) (float64, error) {
	v, ok := p.prices[mint]
	if !ok {
		return 0, domain.ErrNoPrice
	}
	return v, nil
}

func (p *fakePrices) GetPrices(_ context.Context, mints []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, m := range mints {
		if v, ok := p.prices[m]; ok {
			out[m] = v
		}
	}
	return out, nil
}

type fakeStore struct {
	records map[string]domain.Position
	upserts int
	deletes []string
}

var _ domain.PositionStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.Position)}
}

func (s *fakeStore) Upsert(_ context.Context, pos domain.Position) error {
	s.upserts++
	s.records[pos.Address] = pos
	return nil
}

func (s *fakeStore) Delete(_ context.Context, address string) error {
	s.deletes = append(s.deletes, address)
	if _, ok := s.records[address]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, address)
	return nil
}

func (s *fakeStore) GetByAddress(_ context.Context, address string) (domain.Position, error) {
	p, ok := s.records[address]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) ListAll(_ context.Context) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) ListWithTriggers(_ context.Context) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.records {
		if p.HasTriggers() {
			out = append(out, p)
		}
	}
	return out, nil
}

type alertRecord struct {
	event string
	title string
}

type fakeAlerter struct {
	alerts []alertRecord
}

var _ Alerter = (*fakeAlerter)(nil)

func (a *fakeAlerter) Notify(_ context.Context, event, title, _ string) error {
	a.alerts = append(a.alerts, alertRecord{event: event, title: title})
	return nil
}

func (a *fakeAlerter) NotifyAll(_ context.Context, title, _ string) error {
	a.alerts = append(a.alerts, alertRecord{event: "*", title: title})
	return nil
}

type archiveRecord struct {
	address string
	reason  string
}

type fakeArchiver struct {
	archived []archiveRecord
}

var _ ClosedArchiver = (*fakeArchiver)(nil)

func (a *fakeArchiver) ArchiveClosed(_ context.Context, pos domain.Position, reason string, _ time.Time) error {
	a.archived = append(a.archived, archiveRecord{address: pos.Address, reason: reason})
	return nil
}
