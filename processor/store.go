package processor

import (
	"sort"
	"sync"
	"time"

	"perpscan/logger"
	"perpscan/models"
)

// Store holds the latest known state for every discovered market. The
// market set is fixed at construction; merges only ever update fields in
// place and never delete. Writers (the ingest worker) and the periodic
// reader (snapshot builder) synchronize on one RWMutex: merges take the
// write lock, the snapshot copy takes the read lock briefly.
type Store struct {
	mu     sync.RWMutex
	states map[string]*models.MarketState
	log    *logger.Log
}

func NewStore(symbols []string) *Store {
	states := make(map[string]*models.MarketState, len(symbols))
	for _, sym := range symbols {
		states[sym] = &models.MarketState{}
	}

	s := &Store{
		states: states,
		log:    logger.GetLogger(),
	}
	s.log.WithComponent("store").WithFields(logger.Fields{
		"markets": len(states),
	}).Info("market state store initialized")
	return s
}

// Merge applies a normalized update to the market it names. Updates for
// markets outside the discovered set are dropped and reported false; no
// entry is ever created for them. Each field is overwritten only when the
// update carries a parsed value, so partial updates never clear state.
func (s *Store) Merge(u models.NormalizedUpdate, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[u.Market]
	if !ok {
		return false
	}

	st.LastChannel = u.Channel

	switch u.Kind {
	case models.KindBbo:
		if u.Bid != nil {
			st.Bid = u.Bid
		}
		if u.Ask != nil {
			st.Ask = u.Ask
		}
		if now.After(st.BboAt) {
			st.BboAt = now
		}
	case models.KindSummary:
		if u.Mark != nil {
			st.Mark = u.Mark
		}
		if u.Funding != nil {
			st.Funding = u.Funding
		}
		if now.After(st.SummaryAt) {
			st.SummaryAt = now
		}
	case models.KindFunding:
		if u.Funding != nil {
			st.Funding = u.Funding
			if now.After(st.SummaryAt) {
				st.SummaryAt = now
			}
		}
	}

	return true
}

// States returns a value copy of every market state, taken under the read
// lock so the snapshot builder never aliases live store internals.
func (s *Store) States() map[string]models.MarketState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.MarketState, len(s.states))
	for sym, st := range s.states {
		out[sym] = *st
	}
	return out
}

// Get returns a copy of one market's state.
func (s *Store) Get(market string) (models.MarketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[market]
	if !ok {
		return models.MarketState{}, false
	}
	return *st, true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Symbols returns the discovered market set in sorted order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.states))
	for sym := range s.states {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
