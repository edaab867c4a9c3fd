package ledger

// LedgerContext carries the shared state every ledger mutation needs:
// the per-account lock table and the time source.
type LedgerContext struct {
	Locks *LockTable
	Clock Clock
}

func NewContext(clock Clock) *LedgerContext {
	if clock == nil {
		clock = SystemClock{}
	}
	return &LedgerContext{Locks: NewLockTable(), Clock: clock}
}
