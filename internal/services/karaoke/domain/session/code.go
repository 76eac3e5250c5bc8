package session

import (
	"fmt"
	"math/rand/v2"
)

const (
	defaultCodeDigits = 4
	maxCodeDigits     = 9
	randomCodeTries   = 16
)

// codeAllocator hands out numeric join codes that are unique among live
// sessions. Random draws come first; when they keep colliding the allocator
// scans the code space, and a full space widens the code by one digit.
type codeAllocator struct {
	digits int
	intN   func(n int) int
}

func newCodeAllocator(digits int, intN func(n int) int) *codeAllocator {
	if digits <= 0 {
		digits = defaultCodeDigits
	}
	if intN == nil {
		intN = rand.IntN
	}
	return &codeAllocator{digits: min(digits, maxCodeDigits), intN: intN}
}

func (c *codeAllocator) allocate(inUse func(code string) bool) string {
	for {
		space := pow10(c.digits)
		for range randomCodeTries {
			code := c.format(c.intN(space))
			if !inUse(code) {
				return code
			}
		}
		start := c.intN(space)
		for i := range space {
			code := c.format((start + i) % space)
			if !inUse(code) {
				return code
			}
		}
		if c.digits >= maxCodeDigits {
			// Unreachable in practice: a billion live sessions.
			panic("session code space exhausted")
		}
		c.digits++
	}
}

func (c *codeAllocator) format(n int) string {
	return fmt.Sprintf("%0*d", c.digits, n)
}

func pow10(digits int) int {
	n := 1
	for range digits {
		n *= 10
	}
	return n
}
