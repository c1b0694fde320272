package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/blood-donor-assistant/pkg/logging"
)

// Event is an operation result as seen by the notification boundary.
type Event struct {
	Operation   string
	OperationID string
	Success     bool
	Message     string
	Error       string
	// Details are extra body lines such as a booked slot or a venue list.
	Details []string
}

// Notifier emails operation results to the donor. A Notifier without a
// recipient or sender does nothing.
type Notifier struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

func NewNotifier(email EmailSender, to string, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{email: email, to: strings.TrimSpace(to), logger: logger.With("component", "notify")}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.email != nil && n.to != ""
}

// Notify sends one email describing evt.
func (n *Notifier) Notify(ctx context.Context, evt Event) error {
	if !n.Enabled() {
		return nil
	}
	msg := EmailMessage{
		To:      n.to,
		Subject: Subject(evt),
		Body:    Body(evt),
	}
	if err := n.email.Send(ctx, msg); err != nil {
		n.logger.Warn("notify: failed to send result email", "error", err, "operation", evt.Operation, "operation_id", evt.OperationID)
		return fmt.Errorf("notify: send %s result: %w", evt.Operation, err)
	}
	return nil
}

// Subject is the one-line email subject for evt.
func Subject(evt Event) string {
	status := "succeeded"
	if !evt.Success {
		status = "failed"
	}
	name := strings.ReplaceAll(evt.Operation, "_", " ")
	if evt.Message != "" && len(evt.Message) <= 80 {
		return fmt.Sprintf("Blood donor %s %s: %s", name, status, evt.Message)
	}
	return fmt.Sprintf("Blood donor %s %s", name, status)
}

func Body(evt Event) string {
	var b strings.Builder
	if evt.Message != "" {
		b.WriteString(evt.Message)
		b.WriteString("\n")
	}
	if evt.Error != "" && evt.Error != evt.Message {
		fmt.Fprintf(&b, "Error: %s\n", evt.Error)
	}
	if len(evt.Details) > 0 {
		b.WriteString("\n")
		for _, line := range evt.Details {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if evt.OperationID != "" {
		fmt.Fprintf(&b, "\nOperation: %s (%s)\n", evt.Operation, evt.OperationID)
	}
	return b.String()
}
