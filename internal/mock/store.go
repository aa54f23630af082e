package mock

import (
	"context"
	"sync"
	"time"

	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/store"
)

// Store is an in-memory store.Store double, single-process and
// single-transaction-at-a-time (a plain mutex stands in for Postgres row
// locking), sufficient for exercising the engine's sequencing invariants
// without a live database.
type Store struct {
	mu sync.Mutex

	users       map[string]models.User
	credentials map[string]models.BrokerCredentials
	bots        map[string]models.Bot
	positions   map[string]models.Position
	trades      map[string]models.Trade
	activity    []models.ActivityLog
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]models.User),
		credentials: make(map[string]models.BrokerCredentials),
		bots:        make(map[string]models.Bot),
		positions:   make(map[string]models.Position),
		trades:      make(map[string]models.Trade),
	}
}

// PutUser seeds a user for tests.
func (s *Store) PutUser(u models.User, creds *models.BrokerCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	if creds != nil {
		s.credentials[u.ID] = *creds
	}
}

// PutBot seeds a bot for tests.
func (s *Store) PutBot(b models.Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[b.ID] = b
}

func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetBrokerCredentials(_ context.Context, userID string) (*models.BrokerCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListUserIDsWithCredentials(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.credentials))
	for id := range s.credentials {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) GetBot(_ context.Context, botID string) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ListBotsByStatus(_ context.Context, status models.BotStatus) ([]models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Bot
	for _, b := range s.bots {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) ListBotsByOwner(_ context.Context, ownerID string) ([]models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Bot
	for _, b := range s.bots {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) CreateBot(_ context.Context, bot *models.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[bot.ID] = *bot
	return nil
}

func (s *Store) UpdateBotStatus(_ context.Context, botID string, status models.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return store.ErrNotFound
	}
	b.Status = status
	s.bots[botID] = b
	return nil
}

func (s *Store) IncrementBotError(_ context.Context, botID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return 0, store.ErrNotFound
	}
	b.ConsecutiveErrors++
	s.bots[botID] = b
	return b.ConsecutiveErrors, nil
}

func (s *Store) ResetBotError(_ context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return store.ErrNotFound
	}
	b.ConsecutiveErrors = 0
	s.bots[botID] = b
	return nil
}

func (s *Store) TouchBotLastRun(_ context.Context, botID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return store.ErrNotFound
	}
	b.LastRunAt = at
	s.bots[botID] = b
	return nil
}

func (s *Store) DeleteBot(_ context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[botID]; !ok {
		return store.ErrNotFound
	}
	delete(s.bots, botID)
	return nil
}

func (s *Store) GetOpenPosition(_ context.Context, botID, symbol string) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Position
	for _, p := range s.positions {
		if p.BotID == botID && p.Symbol == symbol && p.IsOpen {
			if found == nil || p.OpenedAt.After(found.OpenedAt) {
				cp := p
				found = &cp
			}
		}
	}
	return found, nil
}

func (s *Store) ListOpenPositionsByBot(_ context.Context, botID string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPositions(func(p models.Position) bool { return p.BotID == botID }), nil
}

func (s *Store) ListOpenPositionsByUser(_ context.Context, userID, symbol string) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPositions(func(p models.Position) bool {
		bot, ok := s.bots[p.BotID]
		return ok && bot.OwnerID == userID && (symbol == "" || p.Symbol == symbol)
	}), nil
}

// openPositions must be called with s.mu held.
func (s *Store) openPositions(match func(models.Position) bool) []models.Position {
	var out []models.Position
	for _, p := range s.positions {
		if p.IsOpen && match(p) {
			out = append(out, p)
		}
	}
	sortByOpenedAt(out)
	return out
}

func sortByOpenedAt(positions []models.Position) {
	for i := 1; i < len(positions); i++ {
		for j := i; j > 0 && positions[j].OpenedAt.Before(positions[j-1].OpenedAt); j-- {
			positions[j], positions[j-1] = positions[j-1], positions[j]
		}
	}
}

func (s *Store) UpdatePosition(_ context.Context, pos *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return store.ErrNotFound
	}
	s.positions[pos.ID] = *pos.Clone()
	return nil
}

func (s *Store) ClosePosition(_ context.Context, positionID string, realizedPnL float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[positionID]
	if !ok {
		return store.ErrNotFound
	}
	p.Close(realizedPnL, closedAt)
	s.positions[positionID] = p
	return nil
}

func (s *Store) BotTodayRealizedPnL(_ context.Context, botID string, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, p := range s.positions {
		if p.BotID == botID && !p.IsOpen && p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			total += p.RealizedPnL
		}
	}
	return total, nil
}

func (s *Store) BotOpenPositionCount(_ context.Context, botID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.positions {
		if p.BotID == botID && p.IsOpen {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreatePendingBuy(_ context.Context, trade *models.Trade, pos *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = *trade
	s.positions[pos.ID] = *pos.Clone()
	return nil
}

func (s *Store) CreateTrade(_ context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = *trade
	return nil
}

func (s *Store) UpdateTrade(_ context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.ID]; !ok {
		return store.ErrNotFound
	}
	s.trades[trade.ID] = *trade
	return nil
}

func (s *Store) GetTradeByClientOrderID(_ context.Context, clientOrderID string) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.ClientOrderID == clientOrderID {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListPendingTradesByUser(_ context.Context, userID string) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.Status != models.TradeNew && t.Status != models.TradePartiallyFilled {
			continue
		}
		bot, ok := s.bots[t.BotID]
		if ok && bot.OwnerID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListTradesByBot(_ context.Context, botID string, limit int) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.BotID == botID {
			out = append(out, t)
		}
	}
	sortTradesNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTradesNewestFirst(trades []models.Trade) {
	for i := 1; i < len(trades); i++ {
		for j := i; j > 0 && trades[j].Timestamp.After(trades[j-1].Timestamp); j-- {
			trades[j], trades[j-1] = trades[j-1], trades[j]
		}
	}
}

func (s *Store) ListActivityLogsByBot(_ context.Context, botID string, limit int) ([]models.ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ActivityLog
	for i := len(s.activity) - 1; i >= 0; i-- {
		if s.activity[i].BotID == botID {
			out = append(out, s.activity[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) AppendActivityLog(_ context.Context, entry *models.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, *entry)
	return nil
}

// Activity returns every logged entry, for test assertions.
func (s *Store) Activity() []models.ActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ActivityLog(nil), s.activity...)
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
