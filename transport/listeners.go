package transport

import (
	"chan-rpc/message"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// listenerSet is the fan-out table of an endpoint: every message goes to every
// listener in registration order.
type listenerSet struct {
	lock   deadlock.RWMutex
	nextID int
	order  []int
	byID   map[int]Listener
}

func (s *listenerSet) add(l Listener) func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.byID == nil {
		s.byID = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.byID[id] = l
	s.order = append(s.order, id)

	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		if _, ok := s.byID[id]; !ok {
			return
		}
		delete(s.byID, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *listenerSet) len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.byID)
}

func (s *listenerSet) snapshot() []Listener {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// dispatch hands msg to every listener. A panicking listener is logged and
// skipped so it cannot stop delivery to the others.
func (s *listenerSet) dispatch(msg *message.Message, logger *logrus.Entry) {
	for _, l := range s.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{"id": msg.ID, "channel": msg.ChannelName}).
						Errorf("listener panicked: %v", r)
				}
			}()
			l(msg)
		}()
	}
}
