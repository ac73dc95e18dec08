package common

import (
	"context"
	"time"
)

// WaitWithCancellation ждёт delay либо отмены ctx, смотря что наступит раньше.
// Нулевая или отрицательная задержка возвращает управление сразу.
func WaitWithCancellation(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Возвращаем ошибку контекста, чтобы вызвать обработку прерывания выше по стеку.
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
