package platform

import "sync"

// StubNetwork is a manually driven Network for tests.
type StubNetwork struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func NewStubNetwork(online bool) *StubNetwork {
	return &StubNetwork{online: online}
}

func (s *StubNetwork) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *StubNetwork) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *StubNetwork) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]chan bool, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}
