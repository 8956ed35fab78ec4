// Package ledger 信用余额账本与系统日志
package ledger

// Ledger 信用余额，单位为最小货币单位。
// 只允许在引擎的调度域内修改，本身不加锁。
type Ledger struct {
	balance int64
}

// New 创建余额为 0 的账本（余额不跨重启保存）
func New() *Ledger {
	return &Ledger{}
}

// Credit 无条件入账，返回新余额
func (l *Ledger) Credit(amount int64) int64 {
	l.balance += amount
	return l.balance
}

// Debit 扣款，返回新余额。
// 不做余额校验，调用方必须保证 amount <= Balance()。
func (l *Ledger) Debit(amount int64) int64 {
	l.balance -= amount
	return l.balance
}

// Balance 当前余额
func (l *Ledger) Balance() int64 {
	return l.balance
}
