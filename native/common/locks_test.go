package common

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	var locks KeyedMutex
	var key [32]byte
	key[0] = 1

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			current := counter
			counter = current + 1
			unlock()
		}()
	}
	wg.Wait()
	if counter != 64 {
		t.Fatalf("expected 64 increments, got %d", counter)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", locks.Len())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var locks KeyedMutex
	var a, b [32]byte
	a[0], b[0] = 1, 2

	unlockA := locks.Lock(a)
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock(b)
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
