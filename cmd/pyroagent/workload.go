package main

import "context"

// burn keeps one core busy with naive recursive Fibonacci until ctx is done.
func burn(ctx context.Context) {
	for n := 0; ctx.Err() == nil; n = (n + 1) % 32 {
		_ = fibonacci(n)
	}
}

func fibonacci(n int) int {
	if n < 2 {
		return n
	}

	return fibonacci(n-1) + fibonacci(n-2)
}
