// claim/claim.go

// Package claim arbitrates exclusive ownership of physical pins between
// drivers. A driver claims every pin it will touch before programming any
// hardware; a denied claim reports the current owner so the caller can surface
// it verbatim.
package claim

import (
	"errors"
	"fmt"
	"sync"
)

// ErrConflict matches any *ConflictError.
var ErrConflict = errors.New("resource conflict")

// DriverKind identifies the class of driver that owns a resource.
type DriverKind uint8

const (
	GPIO DriverKind = iota
	UART
	SPI
	Lora
)

func (k DriverKind) String() string {
	switch k {
	case GPIO:
		return "gpio"
	case UART:
		return "uart"
	case SPI:
		return "spi"
	case Lora:
		return "lora"
	default:
		return fmt.Sprintf("driver(%d)", uint8(k))
	}
}

// Pin is a physical GPIO number.
type Pin uint8

func (p Pin) String() string { return fmt.Sprintf("GPIO%d", uint8(p)) }

// Owner is a (driver kind, unit) pair.
type Owner struct {
	Driver DriverKind
	Unit   int
}

func (o Owner) String() string { return fmt.Sprintf("%s%d", o.Driver, o.Unit) }

// ConflictError reports a pin already owned by another driver unit.
type ConflictError struct {
	Pin   Pin
	Owner Owner // current owner
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is used by %s", e.Pin, e.Owner)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Claimer records pin ownership. Claim takes every pin or none: it returns
// nil if each pin is free or already owned by owner, and otherwise a
// *ConflictError for the first pin held by someone else.
type Claimer interface {
	Claim(owner Owner, pins ...Pin) error
}

// Ledger is an in-memory Claimer, safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	owners map[Pin]Owner
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{owners: make(map[Pin]Owner)}
}

func (l *Ledger) Claim(owner Owner, pins ...Pin) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pin := range pins {
		if cur, ok := l.owners[pin]; ok && cur != owner {
			return &ConflictError{Pin: pin, Owner: cur}
		}
	}
	for _, pin := range pins {
		l.owners[pin] = owner
	}
	return nil
}

// Owner reports the current owner of pin.
func (l *Ledger) Owner(pin Pin) (Owner, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.owners[pin]
	return o, ok
}

// Release drops every claim held by owner.
func (l *Ledger) Release(owner Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for p, o := range l.owners {
		if o == owner {
			delete(l.owners, p)
		}
	}
}
