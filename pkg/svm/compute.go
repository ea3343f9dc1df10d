package svm

import (
	"sync/atomic"
)

// Compute unit costs.
const (
	CUDefault = uint64(200_000)   // per instruction when no limit is requested
	CUMax     = uint64(1_400_000) // per transaction

	CUInvokeBase           = uint64(1_000)
	CUCreateProgramAddress = uint64(1_500) // per bump attempt
	CUSystemProgramDefault = uint64(150)
	CUComputeBudgetDefault = uint64(150)
	CUCounterProgramBase   = uint64(500)
)

// MaxInvokeStackHeight bounds nested invocations, the top level included.
const MaxInvokeStackHeight = 5

// ComputeMeter tracks compute unit consumption for one transaction.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a meter capped at CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{remaining: limit, limit: limit}
}

// Consume charges cost units. When fewer remain the meter drains to zero
// and ComputationalBudgetExceeded is returned.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			if atomic.CompareAndSwapUint64(&cm.remaining, remaining, 0) {
				atomic.AddUint64(&cm.consumed, remaining)
				return ComputationalBudgetExceeded
			}
			continue
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the units consumed so far.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}

// DefaultComputeUnitLimit is the limit for a transaction with n
// instructions that did not request one.
func DefaultComputeUnitLimit(n int) uint64 {
	limit := CUDefault * uint64(n)
	if limit > CUMax {
		return CUMax
	}
	return limit
}
