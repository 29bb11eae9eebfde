package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietline/presencewatch/internal/model"
)

// Mailer delivers Notification payloads by email, best-effort and
// asynchronously per spec.md §4.9. No mail-sending library appears
// anywhere in the retrieved example pack, so this uses net/smtp directly
// (see DESIGN.md).
type Mailer struct {
	host string
	port int
	from string
	log  zerolog.Logger
}

// NewMailer builds a Mailer. If host is empty, SendAsync only logs at
// debug level and sends nothing —
// email delivery is opt-in ambient infrastructure, not a hard dependency
// of the core correlation engine.
func NewMailer(host string, port int, from string, log zerolog.Logger) *Mailer {
	return &Mailer{host: host, port: port, from: from, log: log.With().Str("component", "notify.mailer").Logger()}
}

// SendAsync fires off delivery in a goroutine and returns immediately;
// failures are logged, never retried, matching spec.md §7 ("Subscriber
// send failure... not retried" applies equally here — delivery is
// best-effort with no guarantee across crashes).
func (m *Mailer) SendAsync(ctx context.Context, n model.Notification) {
	if m.host == "" {
		m.log.Debug().Msg("no SMTP host configured, skipping notification email")
		return
	}
	go func() {
		if err := m.send(n); err != nil {
			m.log.Error().Err(err).
				Str("session", n.SessionKey.String()).
				Str("device_id", n.DeviceID).
				Msg("failed to deliver notification email")
		}
	}()
}

func (m *Mailer) send(n model.Notification) error {
	if n.ContactTarget == "" {
		return fmt.Errorf("no notification target for session %s", n.SessionKey)
	}

	subject := fmt.Sprintf("%s is now %s", n.ContactLabel, n.ToState)
	body := fmt.Sprintf(
		"%s transitioned %s on %s.\n\nrtt=%dms avg=%dms median=%dms threshold=%dms timeout_streak=%d\nat %s\n",
		n.ContactLabel, n.Transition(), n.SessionKey.Platform,
		n.RTTMS, n.AvgMS, n.MedianMS, n.ThresholdMS, n.TimeoutStreak,
		time.UnixMilli(n.TimestampMS).UTC().Format(time.RFC3339),
	)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, n.ContactTarget, subject, body)

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	return smtp.SendMail(addr, nil, m.from, []string{n.ContactTarget}, []byte(msg))
}
