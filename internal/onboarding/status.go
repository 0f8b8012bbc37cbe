// Package onboarding はオンボーディング状態の判定と完了処理を提供する。
package onboarding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// UserExistence はusers行の存在確認インターフェース。
type UserExistence interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// CustomerExistence はcustomers行の存在確認インターフェース。
type CustomerExistence interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// StatusChecker はユーザーがオンボーディング済みかを判定する。
// users行とcustomers行の両方が存在する場合にオンボーディング済みとみなす。
type StatusChecker struct {
	users     UserExistence
	customers CustomerExistence
}

// NewStatusChecker はStatusCheckerを生成する。
func NewStatusChecker(users UserExistence, customers CustomerExistence) *StatusChecker {
	return &StatusChecker{users: users, customers: customers}
}

// Check は2つの存在確認を並行に実行し、オンボーディング済みかを返す。
// いずれかの確認が失敗した場合はエラーを返す。
func (c *StatusChecker) Check(ctx context.Context, userID string) (bool, error) {
	var userExists, customerExists bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ok, err := c.users.Exists(gctx, userID)
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		userExists = ok
		return nil
	})
	g.Go(func() error {
		ok, err := c.customers.Exists(gctx, userID)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		customerExists = ok
		return nil
	})

	if err := g.Wait(); err != nil {
		return false, err
	}
	return userExists && customerExists, nil
}
