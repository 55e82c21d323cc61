package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

// Inventory is a stock table keyed by menu item id. Items never stocked are untracked and
// always succeed.
type Inventory struct {
	mu       sync.Mutex
	stock    map[string]int
	deducted map[string]int
	restocks map[string]int
}

func NewInventory(stock map[string]int) *Inventory {
	inv := &Inventory{
		stock:    make(map[string]int, len(stock)),
		deducted: make(map[string]int),
		restocks: make(map[string]int),
	}
	for id, qty := range stock {
		inv.stock[id] = qty
	}
	return inv
}

func (i *Inventory) Deduct(_ context.Context, menuItemID string, quantity int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if current, tracked := i.stock[menuItemID]; tracked {
		if current < quantity {
			return fmt.Errorf("%w: %s has %d, need %d", domain.ErrInsufficientStock, menuItemID, current, quantity)
		}
		i.stock[menuItemID] = current - quantity
	}
	i.deducted[menuItemID] += quantity
	return nil
}

func (i *Inventory) Restock(_ context.Context, menuItemID string, quantity int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if _, tracked := i.stock[menuItemID]; tracked {
		i.stock[menuItemID] += quantity
	}
	i.restocks[menuItemID] += quantity
	return nil
}

func (i *Inventory) Stock(menuItemID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock[menuItemID]
}

// Deducted is the cumulative quantity ever deducted for the item.
func (i *Inventory) Deducted(menuItemID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.deducted[menuItemID]
}

func (i *Inventory) Restocked(menuItemID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.restocks[menuItemID]
}

// Locker is a process-local keyed mutex with the same contract as the redis locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]chan struct{})}
}

func (l *Locker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}
