package state

import (
	"sync"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/subscription"
)

// LocalStateManager tracks the live subscriptions of every contest on this node.
type LocalStateManager struct {
	contestStates map[string]*ContestLocalState
	mu            sync.RWMutex
}

type ContestLocalState struct {
	Subscriptions map[string]*subscription.Subscription
	MU            sync.RWMutex
	EventChan     chan model.Event
	// Done is closed when the contest is cleaned up.
	Done chan struct{}
}

func NewLocalStateManager() *LocalStateManager {
	return &LocalStateManager{
		contestStates: make(map[string]*ContestLocalState),
	}
}

// GetContestState returns the local state for a contest, creating it if it doesn't exist
func (lsm *LocalStateManager) GetContestState(contest string) *ContestLocalState {
	lsm.mu.Lock()
	defer lsm.mu.Unlock()

	state, exists := lsm.contestStates[contest]
	if !exists {
		state = &ContestLocalState{
			Subscriptions: make(map[string]*subscription.Subscription),
			EventChan:     make(chan model.Event, 100),
			Done:          make(chan struct{}),
		}
		lsm.contestStates[contest] = state
	}

	return state
}

func (lsm *LocalStateManager) lookup(contest string) (*ContestLocalState, bool) {
	lsm.mu.RLock()
	defer lsm.mu.RUnlock()
	state, exists := lsm.contestStates[contest]
	return state, exists
}

// AddSubscription registers a subscription under its contest
func (lsm *LocalStateManager) AddSubscription(sub *subscription.Subscription) {
	state := lsm.GetContestState(sub.Contest)
	state.MU.Lock()
	defer state.MU.Unlock()

	state.Subscriptions[sub.ID] = sub
}

// RemoveSubscription removes a subscription from its contest
func (lsm *LocalStateManager) RemoveSubscription(contest, id string) {
	state, exists := lsm.lookup(contest)
	if !exists {
		return
	}

	state.MU.Lock()
	defer state.MU.Unlock()

	delete(state.Subscriptions, id)
}

// GetSubscription finds a subscription by id in any contest
func (lsm *LocalStateManager) GetSubscription(id string) (*subscription.Subscription, bool) {
	lsm.mu.RLock()
	states := make([]*ContestLocalState, 0, len(lsm.contestStates))
	for _, state := range lsm.contestStates {
		states = append(states, state)
	}
	lsm.mu.RUnlock()

	for _, state := range states {
		state.MU.RLock()
		sub, found := state.Subscriptions[id]
		state.MU.RUnlock()
		if found {
			return sub, true
		}
	}
	return nil, false
}

// GetAllSubscriptions returns a copy of the subscriptions of a contest
func (lsm *LocalStateManager) GetAllSubscriptions(contest string) []*subscription.Subscription {
	state, exists := lsm.lookup(contest)
	if !exists {
		return nil
	}

	state.MU.RLock()
	defer state.MU.RUnlock()

	subs := make([]*subscription.Subscription, 0, len(state.Subscriptions))
	for _, sub := range state.Subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

// Count returns the number of subscriptions of a contest
func (lsm *LocalStateManager) Count(contest string) int {
	state, exists := lsm.lookup(contest)
	if !exists {
		return 0
	}
	state.MU.RLock()
	defer state.MU.RUnlock()
	return len(state.Subscriptions)
}

// SendEvent sends an event to the contest's event channel without blocking
func (lsm *LocalStateManager) SendEvent(contest string, event model.Event) bool {
	state := lsm.GetContestState(contest)

	select {
	case state.EventChan <- event:
		return true
	default:
		// the broadcast loop still has a pending event; the next tick covers this one
		return false
	}
}

// CleanupContest closes every subscription of a contest and forgets it
func (lsm *LocalStateManager) CleanupContest(contest string) {
	lsm.mu.Lock()
	state, exists := lsm.contestStates[contest]
	delete(lsm.contestStates, contest)
	lsm.mu.Unlock()

	if !exists {
		return
	}
	close(state.Done)

	state.MU.Lock()
	defer state.MU.Unlock()

	for _, sub := range state.Subscriptions {
		sub.Close()
	}
	state.Subscriptions = make(map[string]*subscription.Subscription)
}
