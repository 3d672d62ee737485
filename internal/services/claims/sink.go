package claims

import (
	"math/big"

	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// InstructionLog is the default payout sink: it emits each payout as a
// structured transfer order for the treasury operator. Asset movement
// happens outside this process; the journal stays the order of record.
type InstructionLog struct {
	l *zap.Logger
}

// NewInstructionLog returns a sink that logs transfer orders.
func NewInstructionLog(l *zap.Logger) *InstructionLog {
	return &InstructionLog{l: l}
}

// Pay emits one transfer order.
func (s *InstructionLog) Pay(token domain.Token, recipient common.Address, amount *big.Int) error {
	s.l.Info("payout instruction",
		zap.Stringer("token", token),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()))

	return nil
}
