package engine

import (
	"testing"
	"time"
)

func TestPollingBudgetBoundary(t *testing.T) {
	interval := 5 * time.Second
	timeout := 3*interval - 1 // 恰好容不下第 3 次轮询

	var budget PollingBudget
	allowed := 0
	for i := 0; i < 10; i++ {
		budget.Next(interval)
		if budget.Expired(timeout) {
			break
		}
		allowed++
	}

	if allowed != 2 {
		t.Errorf("timeout = 3*interval - 1 时应允许 2 次轮询，实际允许 %d 次", allowed)
	}
}

func TestPollingBudgetExactTimeout(t *testing.T) {
	interval := 5 * time.Second
	timeout := 3 * interval

	var budget PollingBudget
	allowed := 0
	for i := 0; i < 10; i++ {
		budget.Next(interval)
		if budget.Expired(timeout) {
			break
		}
		allowed++
	}

	// 最后一次允许的轮询恰好落在超时边界上
	if allowed != 3 {
		t.Errorf("timeout = 3*interval 时应允许 3 次轮询，实际允许 %d 次", allowed)
	}
}

func TestPollingBudgetReset(t *testing.T) {
	var budget PollingBudget
	budget.Next(time.Minute)
	budget.Reset()
	if budget.Elapsed != 0 {
		t.Errorf("Reset 后 Elapsed 应为 0，实际 %v", budget.Elapsed)
	}
}
