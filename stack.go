package buffertree

import "github.com/pkg/errors"

// IndexStack is a bounded LIFO pool of free buffer slot indices.
type IndexStack struct {
	slots []int
	top   int
}

// NewIndexStack returns an empty stack holding at most n slots.
func NewIndexStack(n int) (*IndexStack, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "index stack capacity %d", n)
	}
	return &IndexStack{
		slots: make([]int, n),
		top:   -1,
	}, nil
}

// Push records a freed slot.
func (s *IndexStack) Push(slot int) error {
	if s.top+1 == len(s.slots) {
		return errors.Wrapf(ErrCapacityExceeded, "push slot %d onto %d", slot, len(s.slots))
	}
	s.top++
	s.slots[s.top] = slot
	return nil
}

// Pop removes and returns the most recently freed slot.
func (s *IndexStack) Pop() (int, error) {
	if s.top < 0 {
		return -1, errors.WithStack(ErrUnderflow)
	}
	slot := s.slots[s.top]
	s.top--
	return slot, nil
}

// Size ...
func (s *IndexStack) Size() int {
	return s.top + 1
}

// Capacity ...
func (s *IndexStack) Capacity() int {
	return len(s.slots)
}
