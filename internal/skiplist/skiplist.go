package skiplist

import (
	"math/rand"
	"sync"

	"github.com/nbroyles/undolog/internal/storage"
)

const maxLevels = 32

// Node is one key in the list. next[i] is the following node on level i.
type Node struct {
	next  []*Node
	key   string
	value []byte
}

// SkipList is an ordered map with O(log n) expected lookups, inserts and
// removals. See https://en.wikipedia.org/wiki/Skip_list
type SkipList struct {
	lock   sync.RWMutex
	head   *Node
	levels int
	size   int
	rnd    *rand.Rand
}

var _ storage.InMemoryStore = &SkipList{}

// New returns an empty list whose node heights are drawn from seed
func New(seed int64) *SkipList {
	return &SkipList{
		head:   &Node{next: make([]*Node, maxLevels)},
		levels: 1,
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

func (s *SkipList) Get(key string) (bool, []byte) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var preds [maxLevels]*Node
	if node := s.seek(key, &preds); node != nil {
		return true, node.value
	}
	return false, nil
}

// Put inserts key or replaces its value
func (s *SkipList) Put(key string, value []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()

	var preds [maxLevels]*Node
	if node := s.seek(key, &preds); node != nil {
		node.value = value
		return
	}

	height := s.randomHeight()
	if height > s.levels {
		for i := s.levels; i < height; i++ {
			preds[i] = s.head
		}
		s.levels = height
	}

	node := &Node{next: make([]*Node, height), key: key, value: value}
	for i := 0; i < height; i++ {
		node.next[i] = preds[i].next[i]
		preds[i].next[i] = node
	}
	s.size++
}

// Delete unlinks key, returning false if it was not present
func (s *SkipList) Delete(key string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	var preds [maxLevels]*Node
	node := s.seek(key, &preds)
	if node == nil {
		return false
	}

	for i := 0; i < len(node.next); i++ {
		preds[i].next[i] = node.next[i]
	}
	for s.levels > 1 && s.head.next[s.levels-1] == nil {
		s.levels--
	}
	s.size--
	return true
}

// Len returns the number of keys in the list
func (s *SkipList) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.size
}

// InternalIterator returns an iterator over the list in key order
func (s *SkipList) InternalIterator() storage.InternalIterator {
	return NewIterator(s)
}

// seek fills preds with the last node before key on every level and
// returns the node holding key, or nil
func (s *SkipList) seek(key string, preds *[maxLevels]*Node) *Node {
	c := s.head
	for i := s.levels - 1; i >= 0; i-- {
		for c.next[i] != nil && c.next[i].key < key {
			c = c.next[i]
		}
		preds[i] = c
	}

	if next := c.next[0]; next != nil && next.key == key {
		return next
	}
	return nil
}

// randomHeight gives each extra level half the chance of the one below,
// see https://igoro.com/archive/skip-lists-are-fascinating/
func (s *SkipList) randomHeight() int {
	height := 1
	for num := s.rnd.Int63(); num&1 == 1 && height < maxLevels; num >>= 1 {
		height++
	}
	return height
}
