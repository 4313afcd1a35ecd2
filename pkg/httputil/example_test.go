package httputil_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cratemap/cratemap/pkg/httputil"
)

func ExampleRetry() {
	attempts := 0
	err := httputil.Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return httputil.Retryable(errors.New("connection reset"))
		}
		return nil
	})
	fmt.Println("attempts:", attempts)
	fmt.Println("err:", err)
	// Output:
	// attempts: 3
	// err: <nil>
}

func ExampleRetry_terminal() {
	attempts := 0
	err := httputil.Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return errors.New("not found")
	})
	fmt.Println("attempts:", attempts)
	fmt.Println("err:", err)
	// Output:
	// attempts: 1
	// err: not found
}
