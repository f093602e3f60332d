package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process backend: an LRU map with per-entry TTL.
// It is the default and always present as the local tier.
type Memory struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*memNode
	head     *memNode
	tail     *memNode
}

type memNode struct {
	key       string
	payload   []byte
	expiresAt time.Time
	prev      *memNode
	next      *memNode
}

// NewMemory creates an in-process cache holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		capacity: capacity,
		items:    make(map[string]*memNode),
	}
}

// Get implements Cache. Expired entries are removed lazily.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	if time.Now().After(node.expiresAt) {
		m.removeNode(node)
		delete(m.items, key)
		return nil, ErrCacheMiss
	}

	m.moveToHead(node)
	return node.payload, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if node, ok := m.items[key]; ok {
		node.payload = payload
		node.expiresAt = expiresAt
		m.moveToHead(node)
		return nil
	}

	if len(m.items) >= m.capacity {
		m.evictTail()
	}

	node := &memNode{
		key:       key,
		payload:   payload,
		expiresAt: expiresAt,
	}
	m.items[key] = node
	m.addToHead(node)
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.items[key]; ok {
		m.removeNode(node)
		delete(m.items, key)
	}
	return nil
}

// Len returns the current entry count, expired entries included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) addToHead(node *memNode) {
	node.prev = nil
	node.next = m.head
	if m.head != nil {
		m.head.prev = node
	}
	m.head = node
	if m.tail == nil {
		m.tail = node
	}
}

func (m *Memory) removeNode(node *memNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		m.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		m.tail = node.prev
	}
}

func (m *Memory) moveToHead(node *memNode) {
	if node == m.head {
		return
	}
	m.removeNode(node)
	m.addToHead(node)
}

func (m *Memory) evictTail() {
	if m.tail == nil {
		return
	}
	delete(m.items, m.tail.key)
	m.removeNode(m.tail)
}
