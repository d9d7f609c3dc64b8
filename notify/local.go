package notify

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/MrEthical07/authcore"
	"go.uber.org/zap"
)

// LogSink writes alerts to a zap logger at Warn.
type LogSink struct {
	log *zap.Logger
}

var _ authcore.AlertSink = LogSink{}

func NewLogSink(log *zap.Logger) LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return LogSink{log: log}
}

func (s LogSink) Deliver(_ context.Context, a authcore.Alert) error {
	fields := []zap.Field{
		zap.String("event_id", a.EventID),
		zap.String("action", a.Action),
		zap.String("severity", severity(a.Action)),
		zap.String("user_id", a.UserID),
		zap.String("session_id", a.SessionID),
		zap.String("family_id", a.FamilyID),
		zap.String("ip", a.IP),
		zap.Time("at", a.Timestamp),
	}
	if a.Reason != "" {
		fields = append(fields, zap.String("reason", a.Reason))
	}
	s.log.Warn("security alert", fields...)
	return nil
}

// WriterOTPSender writes one JSON line per code to w. It exists so a local
// server can complete email MFA without a mail worker; the codes are
// written in clear.
type WriterOTPSender struct {
	mu sync.Mutex
	w  io.Writer
}

var _ authcore.OTPSender = (*WriterOTPSender)(nil)

func NewWriterOTPSender(w io.Writer) *WriterOTPSender {
	return &WriterOTPSender{w: w}
}

func (s *WriterOTPSender) SendOTP(_ context.Context, msg authcore.OTPMessage) error {
	raw, err := json.Marshal(otpMessage(msg))
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(raw)
	return err
}
