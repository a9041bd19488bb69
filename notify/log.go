package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/warp/stake-ledger/ledger"
)

// Log writes each event as a structured log line. It never fails.
type Log struct {
	log logrus.FieldLogger
}

func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log.WithField("component", "notify")}
}

func (l *Log) Notify(_ context.Context, ev ledger.Event) error {
	fields := logrus.Fields{
		"event":   ev.Kind,
		"user_id": ev.UserID,
		"amount":  ev.Amount.String(),
	}
	if ev.InvestmentID != "" {
		fields["investment_id"] = ev.InvestmentID
	}
	if ev.TransactionID != "" {
		fields["transaction_id"] = ev.TransactionID
	}
	if ev.IsSOS {
		fields["sos"] = true
	}
	l.log.WithFields(fields).Info("ledger event")
	return nil
}
