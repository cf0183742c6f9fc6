package skiplist

import (
	"github.com/nbroyles/undolog/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Iterator walks the bottom level of the list
type Iterator struct {
	node *Node
}

func NewIterator(list *SkipList) storage.InternalIterator {
	return &Iterator{node: list.head}
}

func (i *Iterator) HasNext() bool {
	return i.node.next[0] != nil
}

func (i *Iterator) Next() *storage.Entry {
	if !i.HasNext() {
		log.Panic("iterator has no next element")
	}
	i.node = i.node.next[0]

	return &storage.Entry{Key: i.node.key, Value: i.node.value}
}

var _ storage.InternalIterator = &Iterator{}
